// Package soap implements the SOAP endpoint driver: builds and parses
// envelopes for the endpoint's schema, authenticates with basic-auth
// credentials from the route, and maps the endpoint's own status codes
// onto the Submission status enum through a small per-endpoint
// translation table.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowctl/workflowrouter/internal/driver"
	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
)

const Kind = "SOAP"

// defaultStatusTranslation maps the endpoint's own status vocabulary onto
// the uniform Submission status enum. Every Driver built by New uses this
// one table; route properties do not change it. Codes missing from the
// table pass through unchanged.
var defaultStatusTranslation = map[string]submission.Status{
	"ACCEPTED":  submission.StatusQueued,
	"EXECUTING": submission.StatusRunning,
	"SUCCESS":   submission.StatusCompleted,
	"ERROR":     submission.StatusFailed,
	"ABORTED":   submission.StatusCancelled,
}

type Driver struct {
	client      *http.Client
	translation map[string]submission.Status
}

func New() *Driver {
	return &Driver{
		client:      &http.Client{Timeout: 5 * time.Second},
		translation: defaultStatusTranslation,
	}
}

type envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    body     `xml:"Body"`
}

type body struct {
	SubmitResponse *submitResponse `xml:"SubmitWorkflowResponse"`
	StatusResponse *statusResponse `xml:"GetStatusResponse"`
	Fault          *fault          `xml:"Fault"`
}

type fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type submitResponse struct {
	ExternalID string `xml:"externalId"`
}

type statusResponse struct {
	Status     string       `xml:"status"`
	ReportedAt string       `xml:"reportedAt"`
	ResultKV   []resultEntry `xml:"result>entry"`
	Tasks      []soapTask   `xml:"tasks>task"`
}

type resultEntry struct {
	Key   string `xml:"key"`
	Value string `xml:"value"`
}

type soapTask struct {
	TaskID         string `xml:"taskId"`
	ExternalTaskID string `xml:"externalTaskId"`
	Status         string `xml:"status"`
	StartedAt      string `xml:"startedAt"`
	EndedAt        string `xml:"endedAt"`
	OrderIndex     int    `xml:"orderIndex"`
}

func (d *Driver) Submit(ctx context.Context, route driver.Route, workflowID string, parameters map[string]interface{}) (string, error) {
	payload, err := buildSubmitEnvelope(workflowID, parameters)
	if err != nil {
		return "", routererr.Wrap(routererr.KindTransport, "building submit envelope", err)
	}

	env, err := d.call(ctx, route, payload)
	if err != nil {
		return "", err
	}
	if env.Body.Fault != nil {
		return "", faultToError(env.Body.Fault)
	}
	if env.Body.SubmitResponse == nil {
		return "", routererr.New(routererr.KindTransport, "missing SubmitWorkflowResponse")
	}
	return env.Body.SubmitResponse.ExternalID, nil
}

func (d *Driver) PollStatus(ctx context.Context, route driver.Route, externalID string) (driver.RemoteStatus, error) {
	payload := buildStatusEnvelope(externalID)

	env, err := d.call(ctx, route, payload)
	if err != nil {
		return driver.RemoteStatus{}, err
	}
	if env.Body.Fault != nil {
		return driver.RemoteStatus{}, faultToError(env.Body.Fault)
	}
	if env.Body.StatusResponse == nil {
		return driver.RemoteStatus{}, routererr.New(routererr.KindTransport, "missing GetStatusResponse")
	}
	return d.toRemoteStatus(*env.Body.StatusResponse), nil
}

func (d *Driver) VerifyCallback(ctx context.Context, route driver.Route, payload []byte) (driver.RemoteStatus, error) {
	var env envelope
	if err := xml.Unmarshal(payload, &env); err != nil {
		return driver.RemoteStatus{}, routererr.Wrap(routererr.KindInvalidCallback, "parsing callback envelope", err)
	}
	if env.Body.StatusResponse == nil {
		return driver.RemoteStatus{}, routererr.New(routererr.KindInvalidCallback, "callback missing status body")
	}
	return d.toRemoteStatus(*env.Body.StatusResponse), nil
}

func (d *Driver) Kind() string { return Kind }

func (d *Driver) call(ctx context.Context, route driver.Route, payload []byte) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route.EndpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, routererr.Wrap(routererr.KindTransport, "building soap request", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.SetBasicAuth(route.UserID, route.Password)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindUnavailable, "soap request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, routererr.Wrap(routererr.KindTransport, "reading soap response", err)
	}
	if resp.StatusCode >= 500 {
		return nil, routererr.New(routererr.KindUnavailable, fmt.Sprintf("http %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, routererr.New(routererr.KindAuthError, fmt.Sprintf("http %d", resp.StatusCode))
	}

	var env envelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, routererr.Wrap(routererr.KindTransport, "parsing soap envelope", err)
	}
	return &env, nil
}

func (d *Driver) toRemoteStatus(sr statusResponse) driver.RemoteStatus {
	result := make(map[string]interface{}, len(sr.ResultKV))
	for _, e := range sr.ResultKV {
		result[e.Key] = e.Value
	}

	tasks := make([]submission.Task, 0, len(sr.Tasks))
	for _, t := range sr.Tasks {
		tasks = append(tasks, submission.Task{
			TaskID:         t.TaskID,
			ExternalTaskID: t.ExternalTaskID,
			Status:         d.translate(t.Status),
			StartedAt:      parseTime(t.StartedAt),
			EndedAt:        parseTime(t.EndedAt),
			OrderIndex:     t.OrderIndex,
		})
	}

	reportedAt := parseTime(sr.ReportedAt)
	if reportedAt.IsZero() {
		reportedAt = time.Now().UTC()
	}

	return driver.RemoteStatus{
		Status:     d.translate(sr.Status),
		Result:     result,
		Tasks:      tasks,
		ReportedAt: reportedAt,
	}
}

func (d *Driver) translate(remote string) submission.Status {
	if st, ok := d.translation[remote]; ok {
		return st
	}
	return submission.Status(remote)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func faultToError(f *fault) error {
	switch f.Code {
	case "Client.Auth":
		return routererr.New(routererr.KindAuthError, f.String)
	case "Client.NotFound":
		return routererr.New(routererr.KindNotFound, f.String)
	case "Server":
		return routererr.New(routererr.KindUnavailable, f.String)
	default:
		return routererr.New(routererr.KindRejected, f.String)
	}
}

func buildSubmitEnvelope(workflowID string, parameters map[string]interface{}) ([]byte, error) {
	entries := make([]resultEntry, 0, len(parameters))
	for k, v := range parameters {
		entries = append(entries, resultEntry{Key: k, Value: fmt.Sprint(v)})
	}

	type submitParams struct {
		XMLName    xml.Name      `xml:"Envelope"`
		WorkflowID string        `xml:"Body>SubmitWorkflow>workflowId"`
		Parameters []resultEntry `xml:"Body>SubmitWorkflow>parameters>entry"`
	}

	return xml.Marshal(submitParams{WorkflowID: workflowID, Parameters: entries})
}

func buildStatusEnvelope(externalID string) []byte {
	type statusReq struct {
		XMLName    xml.Name `xml:"Envelope"`
		ExternalID string   `xml:"Body>GetStatus>externalId"`
	}
	b, _ := xml.Marshal(statusReq{ExternalID: externalID})
	return b
}
