package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// apiVersion is the Salesforce REST API version used for SOQL queries.
const apiVersion = "v64.0"

// agentQuery lists all Einstein service agents defined on the instance.
const agentQuery = "SELECT FIELDS(ALL) from BotDefinition WHERE AgentType = 'EinsteinServiceAgent' LIMIT 200"

// RemoteAgent is an agent definition as reported by the instance.
type RemoteAgent struct {
	ID            string `json:"Id"`
	MasterLabel   string `json:"MasterLabel"`
	Description   string `json:"Description"`
	AgentTemplate string `json:"AgentTemplate"`
	DeveloperName string `json:"DeveloperName"`
}

type queryResponse struct {
	TotalSize int           `json:"totalSize"`
	Done      bool          `json:"done"`
	Records   []RemoteAgent `json:"records"`
}

// ListAgents queries the instance for its agent definitions. A 401 response
// invalidates the cached token and the query is retried once with a fresh
// one.
func (p *TokenProvider) ListAgents(ctx context.Context) ([]RemoteAgent, error) {
	token, err := p.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	records, status, err := p.queryAgents(ctx, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		p.Invalidate()
		token, err = p.GetValidToken(ctx)
		if err != nil {
			return nil, err
		}
		records, status, err = p.queryAgents(ctx, token)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("agent query failed with status %d", status)
	}
	return records, nil
}

func (p *TokenProvider) queryAgents(ctx context.Context, token string) ([]RemoteAgent, int, error) {
	queryURL := fmt.Sprintf("%s/services/data/%s/query/?q=%s",
		p.instanceURL, apiVersion, url.QueryEscape(agentQuery))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build agent query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("agent query: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, resp.StatusCode, nil
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode agent query response: %w", err)
	}
	return qr.Records, resp.StatusCode, nil
}
