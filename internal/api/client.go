package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zorosafi2003/CenterPhoneApp/internal/config"
)

// listTake is the page size requested from the list endpoints. The wire
// protocol is skip/take shaped but the client always pulls the full set in
// one call; the backend rosters are well under this bound.
const listTake = 1000

// envelope is the response wrapper shared by every endpoint.
type envelope struct {
	IsSuccess bool            `json:"isSuccess"`
	Error     *envelopeError  `json:"error"`
	Value     json.RawMessage `json:"value"`
}

type envelopeError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// StudentRecord is a roster row as the server returns it.
type StudentRecord struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	FullName     string `json:"fullName"`
	GroupName    string `json:"groupName"`
	PhoneNumber  string `json:"phoneNumber"`
	ParentPhone1 string `json:"parentPhone1"`
	ParentPhone2 string `json:"parentPhone2"`
}

// CenterRecord is a center row as the server returns it.
type CenterRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BatchEntry is one queued scan in an attendance submission.
type BatchEntry struct {
	StudentID   string    `json:"studentId,omitempty"`
	StudentCode string    `json:"studentCode"`
	CenterID    string    `json:"centerId"`
	LocalID     string    `json:"localId"`
	CreateDate  time.Time `json:"createDate"`
}

// LoginResult is the identity payload returned by a successful login.
type LoginResult struct {
	FullName    string `json:"fullName"`
	Token       string `json:"token"`
	TeacherName string `json:"teacherName"`
}

// Client calls the remote attendance API. It holds no auth state: the bearer
// token is attached per request and never cached.
type Client struct {
	Endpoints config.Endpoints
	HTTP      *http.Client
}

// New creates a client with the given endpoint set and request timeout.
func New(eps config.Endpoints, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		Endpoints: eps,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

// Login validates credentials and returns the issued session identity.
func (c *Client) Login(ctx context.Context, userName, password string) (*LoginResult, error) {
	body := map[string]any{
		"userName":  userName,
		"password":  password,
		"loginType": 1,
	}
	var out LoginResult
	if err := c.do(ctx, http.MethodPost, c.Endpoints.AuthenticationEndpoint, "", body, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, &APIError{Code: "EmptyToken", Description: "login response carried no token"}
	}
	return &out, nil
}

// FetchStudents returns the full student roster.
func (c *Client) FetchStudents(ctx context.Context, token string) ([]StudentRecord, error) {
	var out struct {
		Data  []StudentRecord `json:"data"`
		Count int             `json:"count"`
	}
	body := map[string]int{"skip": 0, "take": listTake}
	if err := c.do(ctx, http.MethodPost, c.Endpoints.GetStudentsEndpoint, token, body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// FetchCenters returns the full center list.
func (c *Client) FetchCenters(ctx context.Context, token string) ([]CenterRecord, error) {
	var out struct {
		Data  []CenterRecord `json:"data"`
		Count int            `json:"count"`
	}
	body := map[string]int{"skip": 0, "take": listTake}
	if err := c.do(ctx, http.MethodPost, c.Endpoints.GetCentersEndpoint, token, body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// SubmitAttendanceBatch submits one batch of queued scans and returns the set
// of local ids the server confirms as durably inserted. A local id missing
// from the set is not yet confirmed and must stay queued.
func (c *Client) SubmitAttendanceBatch(ctx context.Context, token string, batch []BatchEntry) (map[string]bool, error) {
	body := map[string]any{"data": batch}
	var out struct {
		InsertedLocalIDArr []string `json:"insertedLocalIdArr"`
	}
	if err := c.do(ctx, http.MethodPost, c.Endpoints.SetStudentAttendanceEndpoint, token, body, &out); err != nil {
		return nil, err
	}
	confirmed := make(map[string]bool, len(out.InsertedLocalIDArr))
	for _, id := range out.InsertedLocalIDArr {
		confirmed[id] = true
	}
	return confirmed, nil
}

// StudentByPhone looks a student up by phone number. A miss is nil, not an error.
func (c *Client) StudentByPhone(ctx context.Context, token, phone string) (*StudentRecord, error) {
	path := c.Endpoints.GetStudentByPhoneEndpoint + "/" + url.PathEscape(phone)
	var out StudentRecord
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "NotFound" {
			return nil, nil
		}
		return nil, err
	}
	if out.ID == "" {
		return nil, nil
	}
	return &out, nil
}

// AttachStudentCode binds a scanned card code to a student server-side and
// returns the refreshed student row.
func (c *Client) AttachStudentCode(ctx context.Context, token, studentID, code string) (*StudentRecord, error) {
	body := map[string]string{"id": studentID, "code": code}
	var out StudentRecord
	if err := c.do(ctx, http.MethodPut, c.Endpoints.AttachStudentToCodeEndpoint, token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one request/response round trip: build the JSON request, attach
// the bearer token for this call only, map the status code and envelope into
// the error taxonomy, and decode the envelope value into out.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	requestURI := strings.TrimRight(c.Endpoints.BaseURL, "/") + path

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURI, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Code:        fmt.Sprintf("%d", resp.StatusCode),
			Description: fmt.Sprintf("unexpected status %s", resp.Status),
		}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Code: "InvalidResponse", Description: fmt.Sprintf("decode envelope: %v", err)}
	}
	if !env.IsSuccess {
		apiErr := &APIError{Code: "Unknown", Description: "server reported failure"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Description = env.Error.Description
		}
		return apiErr
	}
	if out != nil && len(env.Value) > 0 {
		if err := json.Unmarshal(env.Value, out); err != nil {
			return &APIError{Code: "InvalidResponse", Description: fmt.Sprintf("decode value: %v", err)}
		}
	}
	return nil
}
