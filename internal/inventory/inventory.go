// Package inventory answers class-ownership questions against the game's
// public character page.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable wraps any transport or decoding failure so callers can tell
// "service down" apart from "class not owned".
var ErrUnavailable = errors.New("inventory service unavailable")

// equivalents maps classes that count as each other for composition
// purposes.
var equivalents = map[string][]string{
	"stonecrusher":   {"infinity titan"},
	"infinity titan": {"stonecrusher"},
}

type item struct {
	Name string `json:"strName"`
	Type string `json:"strType"`
}

// Client fetches an account's inventory and filters it down to classes.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// ownedClasses returns the account's class names in page order.
func (c *Client) ownedClasses(ctx context.Context, accountID string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/CharPage/Inventory?ccid=%s", c.baseURL, url.QueryEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var items []item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	classes := make([]string, 0, len(items))
	for _, it := range items {
		if strings.EqualFold(it.Type, "class") {
			classes = append(classes, it.Name)
		}
	}
	return classes, nil
}

// HasRole reports whether the account owns the class, directly or through an
// equivalent.
func (c *Client) HasRole(ctx context.Context, accountID, role string) (bool, error) {
	owned, err := c.ownedClasses(ctx, accountID)
	if err != nil {
		return false, err
	}
	return matches(owned, role), nil
}

// OwnedOf filters the wanted roles down to those the account owns. A nil
// wanted set means "no constraint" and returns every owned class.
func (c *Client) OwnedOf(ctx context.Context, accountID string, wanted []string) ([]string, error) {
	owned, err := c.ownedClasses(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if wanted == nil {
		return owned, nil
	}
	out := make([]string, 0, len(wanted))
	for _, role := range wanted {
		if matches(owned, role) {
			out = append(out, role)
		}
	}
	return out, nil
}

func matches(owned []string, role string) bool {
	accepted := append([]string{role}, equivalents[strings.ToLower(role)]...)
	for _, have := range owned {
		for _, want := range accepted {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}
