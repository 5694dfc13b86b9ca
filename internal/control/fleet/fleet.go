// Package fleet reads the hub's view of connected agents and the devices
// they see.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-resty/resty/v2"

	"github.com/theaaf/blackmagic-c2/internal/protocol"
)

var ErrAgentNotFound = errors.New("agent is not connected")

type Client struct {
	http *resty.Client
}

func New(hc *resty.Client) *Client {
	return &Client{http: hc}
}

// Agents lists connected agents ordered by id.
func (c *Client) Agents(ctx context.Context) ([]protocol.AgentInfo, error) {
	var agents []protocol.AgentInfo
	resp, err := c.http.R().SetContext(ctx).SetResult(&agents).Get("/api/agents")
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list agents: %s", resp.Status())
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// Agent fetches one agent.
func (c *Client) Agent(ctx context.Context, id string) (protocol.AgentInfo, error) {
	var agent protocol.AgentInfo
	resp, err := c.http.R().SetContext(ctx).SetResult(&agent).Get("/api/agents/" + url.PathEscape(id))
	if err != nil {
		return protocol.AgentInfo{}, fmt.Errorf("get agent %s: %w", id, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return protocol.AgentInfo{}, fmt.Errorf("get agent %s: %w", id, ErrAgentNotFound)
	case resp.IsError():
		return protocol.AgentInfo{}, fmt.Errorf("get agent %s: %s", id, resp.Status())
	}
	return agent, nil
}

// Commandable reports whether commands may be sent to d.
func Commandable(d protocol.NetworkDevice) bool {
	return d.Commandable()
}

// Describe returns a short label for d.
func Describe(d protocol.NetworkDevice) string {
	if d.Details != nil && d.Details.HyperDeck != nil {
		return d.Details.HyperDeck.ModelName
	}
	return ""
}
