package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// pocketBaseTimeLayout is the datetime format of record timestamps.
const pocketBaseTimeLayout = "2006-01-02 15:04:05.000Z"

// PocketBaseConfig configures a PocketBaseProvider.
type PocketBaseConfig struct {
	URL        string
	Collection string
	Timeout    time.Duration
}

// PocketBaseProvider authenticates against the records API of a PocketBase
// auth collection.
type PocketBaseProvider struct {
	client     *resty.Client
	collection string
	logger     zerolog.Logger
}

type pbRecord struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	EmailVisibility bool   `json:"emailVisibility"`
	Created         string `json:"created"`
}

type pbAuthResponse struct {
	Token  string   `json:"token"`
	Record pbRecord `json:"record"`
}

type pbError struct {
	Code    int                   `json:"code"`
	Message string                `json:"message"`
	Data    map[string]FieldError `json:"data"`
}

// NewPocketBaseProvider creates a PocketBaseProvider.
func NewPocketBaseProvider(cfg PocketBaseConfig, logger zerolog.Logger) *PocketBaseProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &PocketBaseProvider{
		client:     client,
		collection: cfg.Collection,
		logger:     logger.With().Str("component", "identity-pocketbase").Logger(),
	}
}

// AuthWithPassword calls auth-with-password on the collection.
func (p *PocketBaseProvider) AuthWithPassword(ctx context.Context, identity, password string) (*AuthResult, error) {
	var out pbAuthResponse
	var apiErr pbError

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"identity": identity, "password": password}).
		SetResult(&out).
		SetError(&apiErr).
		Post(p.path("auth-with-password"))
	if err != nil {
		p.logger.Warn().Err(err).Msg("PocketBase unreachable")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.IsError() {
		if resp.StatusCode() == http.StatusBadRequest {
			return nil, ErrInvalidCredentials
		}
		return nil, responseError(resp.StatusCode(), apiErr)
	}

	if out.Token == "" {
		return nil, errors.New("identity: auth response carried no token")
	}

	return &AuthResult{Token: out.Token, Record: out.Record.toRecord()}, nil
}

// Create posts a new record to the collection.
func (p *PocketBaseProvider) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	var out pbRecord
	var apiErr pbError

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post(p.path("records"))
	if err != nil {
		p.logger.Warn().Err(err).Msg("PocketBase unreachable")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.IsError() {
		return nil, responseError(resp.StatusCode(), apiErr)
	}

	record := out.toRecord()
	return &record, nil
}

func (p *PocketBaseProvider) path(action string) string {
	return fmt.Sprintf("/api/collections/%s/%s", p.collection, action)
}

func responseError(status int, apiErr pbError) *ResponseError {
	return &ResponseError{
		Status:  status,
		Message: apiErr.Message,
		Fields:  apiErr.Data,
	}
}

func (r pbRecord) toRecord() Record {
	created, err := time.Parse(pocketBaseTimeLayout, r.Created)
	if err != nil {
		created, _ = time.Parse(time.RFC3339Nano, r.Created)
	}
	return Record{
		ID:              r.ID,
		Username:        r.Username,
		Email:           r.Email,
		EmailVisibility: r.EmailVisibility,
		Created:         created,
	}
}
