// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rpc holds the JSON-RPC client used to reach vault, ledger and
// relayer services.
package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/rpc/v2/json2"
)

// Requester issues JSON-RPC 2.0 calls against one endpoint.
type Requester interface {
	SendRequest(ctx context.Context, method string, params any, reply any) error
}

type requester struct {
	uri    *url.URL
	client *http.Client
}

// NewRequester returns a Requester for uri. A nil client uses
// http.DefaultClient.
func NewRequester(uri *url.URL, client *http.Client) Requester {
	if client == nil {
		client = http.DefaultClient
	}
	return &requester{
		uri:    uri,
		client: client,
	}
}

func (r *requester) SendRequest(ctx context.Context, method string, params any, reply any) error {
	return SendJSONRequest(ctx, r.client, r.uri, method, params, reply)
}

// SendJSONRequest posts method with params to uri and decodes the result
// into reply. JSON-RPC errors are returned as *json2.Error.
func SendJSONRequest(ctx context.Context, client *http.Client, uri *url.URL, method string, params any, reply any) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to issue request: %w", err)
	}
	defer CleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received status code: %d", resp.StatusCode)
	}
	return json2.DecodeClientResponse(resp.Body, reply)
}

// CleanlyCloseBody drains and closes body so the connection can be reused.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, err := io.Copy(io.Discard, body)
	if closeErr := body.Close(); err == nil {
		err = closeErr
	}
	return err
}
