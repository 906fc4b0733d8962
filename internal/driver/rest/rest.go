// Package rest implements the REST endpoint driver: structured JSON
// requests against a URL derived from the route and workflowId, mapping
// HTTP status codes onto the uniform driver error taxonomy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowctl/workflowrouter/internal/driver"
	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
)

const Kind = "REST"

// Driver is the REST implementation. It holds a shared, pooled HTTP
// client — drivers are stateless with respect to individual submissions,
// but the transport itself is shared and safe for concurrent use.
type Driver struct {
	client *http.Client
}

func New() *Driver {
	return &Driver{client: &http.Client{Timeout: 5 * time.Second}}
}

type submitRequest struct {
	WorkflowID string                 `json:"workflowId"`
	Parameters map[string]interface{} `json:"parameters"`
}

type submitResponse struct {
	ExternalID string `json:"externalId"`
}

func (d *Driver) Submit(ctx context.Context, route driver.Route, workflowID string, parameters map[string]interface{}) (string, error) {
	url := fmt.Sprintf("%s/workflows/%s/runs", route.EndpointURL, workflowID)
	body, err := json.Marshal(submitRequest{WorkflowID: workflowID, Parameters: parameters})
	if err != nil {
		return "", routererr.Wrap(routererr.KindTransport, "marshaling submit payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", routererr.Wrap(routererr.KindTransport, "building submit request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setBasicAuth(req, route)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", routererr.Wrap(routererr.KindUnavailable, "submit request failed", err)
	}
	defer resp.Body.Close()

	if err := statusToError(resp.StatusCode); err != nil {
		return "", err
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", routererr.Wrap(routererr.KindTransport, "decoding submit response", err)
	}
	return out.ExternalID, nil
}

type pollResponse struct {
	Status     string                 `json:"status"`
	Result     map[string]interface{} `json:"result"`
	Tasks      []pollTask             `json:"tasks"`
	ReportedAt time.Time              `json:"reportedAt"`
}

type pollTask struct {
	TaskID         string    `json:"taskId"`
	ExternalTaskID string    `json:"externalTaskId"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
	OrderIndex     int       `json:"orderIndex"`
}

func (d *Driver) PollStatus(ctx context.Context, route driver.Route, externalID string) (driver.RemoteStatus, error) {
	url := fmt.Sprintf("%s/runs/%s", route.EndpointURL, externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return driver.RemoteStatus{}, routererr.Wrap(routererr.KindTransport, "building poll request", err)
	}
	setBasicAuth(req, route)

	resp, err := d.client.Do(req)
	if err != nil {
		return driver.RemoteStatus{}, routererr.Wrap(routererr.KindUnavailable, "poll request failed", err)
	}
	defer resp.Body.Close()

	if err := statusToError(resp.StatusCode); err != nil {
		return driver.RemoteStatus{}, err
	}

	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return driver.RemoteStatus{}, routererr.Wrap(routererr.KindTransport, "decoding poll response", err)
	}
	return toRemoteStatus(out), nil
}

func (d *Driver) VerifyCallback(ctx context.Context, route driver.Route, payload []byte) (driver.RemoteStatus, error) {
	var out pollResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return driver.RemoteStatus{}, routererr.Wrap(routererr.KindInvalidCallback, "parsing callback payload", err)
	}
	return toRemoteStatus(out), nil
}

func (d *Driver) Kind() string { return Kind }

func toRemoteStatus(out pollResponse) driver.RemoteStatus {
	tasks := make([]submission.Task, 0, len(out.Tasks))
	for _, t := range out.Tasks {
		tasks = append(tasks, submission.Task{
			TaskID:         t.TaskID,
			ExternalTaskID: t.ExternalTaskID,
			Status:         submission.Status(t.Status),
			StartedAt:      t.StartedAt,
			EndedAt:        t.EndedAt,
			OrderIndex:     t.OrderIndex,
		})
	}
	reportedAt := out.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now().UTC()
	}
	return driver.RemoteStatus{
		Status:     submission.Status(out.Status),
		Result:     out.Result,
		Tasks:      tasks,
		ReportedAt: reportedAt,
	}
}

func setBasicAuth(req *http.Request, route driver.Route) {
	if route.UserID != "" {
		req.SetBasicAuth(route.UserID, route.Password)
	}
}

func statusToError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return routererr.New(routererr.KindAuthError, fmt.Sprintf("http %d", code))
	case code == http.StatusNotFound:
		return routererr.New(routererr.KindNotFound, fmt.Sprintf("http %d", code))
	case code >= 500:
		return routererr.New(routererr.KindUnavailable, fmt.Sprintf("http %d", code))
	default:
		return routererr.New(routererr.KindRejected, fmt.Sprintf("http %d", code))
	}
}
