// Package client implements the MANY RPC client (SPEC_FULL.md 4.7):
// builds, signs, and POSTs RequestMessage envelopes, decodes the matching
// ResponseMessage, and polls async.status on deferred results. HTTP
// plumbing (timeouts, content type) follows the teacher corpus's plain
// net/http.Client usage (e.g. Jointeg-ubirch-cose-client-go's
// extended_client.go) rather than introducing a new HTTP library.
package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/brianh20/many-go/pkg/envelope"
	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/manyerr"
	"github.com/brianh20/many-go/pkg/message"
	"github.com/brianh20/many-go/pkg/module"
	"github.com/brianh20/many-go/pkg/signer"
)

const (
	// defaultHTTPTimeout is the per-attempt request timeout (SPEC_FULL.md 5).
	defaultHTTPTimeout = 30 * time.Second
	// DefaultAsyncPollInterval is the minimum wait between async.status polls.
	DefaultAsyncPollInterval = 1 * time.Second
	// DefaultAsyncPollBudget is the default number of poll attempts.
	DefaultAsyncPollBudget = 60
)

// Client is a signed RPC caller bound to one destination server identity.
type Client struct {
	URL    string
	To     identity.Identity
	Signer signer.Signer

	HTTPClient        *http.Client
	AsyncPollInterval time.Duration
	AsyncPollBudget   int
}

// New constructs a Client with SPEC_FULL.md's default timeout/poll policy.
func New(url string, to identity.Identity, s signer.Signer) *Client {
	return &Client{
		URL:               url,
		To:                to,
		Signer:            s,
		HTTPClient:        &http.Client{Timeout: defaultHTTPTimeout},
		AsyncPollInterval: DefaultAsyncPollInterval,
		AsyncPollBudget:   DefaultAsyncPollBudget,
	}
}

// CallRaw builds, signs, and sends a RequestMessage for method/data, then
// polls to completion if the response defers via an AsyncAttribute.
// async=true returns the first response verbatim (including a pending
// AsyncAttribute) without polling, letting the caller drive the poll loop.
func (c *Client) CallRaw(method string, data []byte, async bool) (message.ResponseMessage, error) {
	selfID, err := c.Signer.Identity()
	if err != nil {
		return message.ResponseMessage{}, fmt.Errorf("derive client identity: %w", err)
	}

	req := message.RequestMessage{
		From:      selfID,
		To:        c.To,
		Method:    method,
		Data:      data,
		Timestamp: time.Now(),
	}

	env, err := c.buildEnvelope(req)
	if err != nil {
		return message.ResponseMessage{}, err
	}

	respEnv, err := c.SendEnvelope(env)
	if err != nil {
		return message.ResponseMessage{}, err
	}

	decoded, err := envelope.Decode(respEnv, true)
	if err != nil {
		return message.ResponseMessage{}, manyerr.Wrap(err)
	}
	resp, err := message.DecodeResponseMessage(decoded.Payload, &c.To)
	if err != nil {
		return message.ResponseMessage{}, err
	}

	if async {
		return resp, nil
	}

	if token, ok := resp.AsyncToken(); ok {
		return c.pollAsync(token)
	}
	return resp, nil
}

// Call CBOR-encodes args, calls CallRaw, and CBOR-decodes the payload into
// out, propagating a ManyError from the response as the returned error.
func (c *Client) Call(method string, args interface{}, out interface{}, async bool) (message.ResponseMessage, error) {
	data, err := cbor.Marshal(args)
	if err != nil {
		return message.ResponseMessage{}, manyerr.SerializationError(err.Error())
	}
	resp, err := c.CallRaw(method, data, async)
	if err != nil {
		return resp, err
	}
	if resp.IsError() {
		return resp, resp.Err
	}
	if out != nil && len(resp.Data) > 0 {
		if err := cbor.Unmarshal(resp.Data, out); err != nil {
			return resp, manyerr.DeserializationError(err.Error())
		}
	}
	return resp, nil
}

// SendEnvelope POSTs a pre-built envelope and returns the raw response
// envelope bytes, supporting relays and a hex-paste debug path.
func (c *Client) SendEnvelope(envBytes []byte) ([]byte, error) {
	httpReq, err := http.NewRequest(http.MethodPost, c.URL, bytes.NewReader(envBytes))
	if err != nil {
		return nil, fmt.Errorf("build HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/cbor")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server responded with HTTP %d", httpResp.StatusCode)
	}
	return body, nil
}

func (c *Client) buildEnvelope(req message.RequestMessage) ([]byte, error) {
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}
	env, err := envelope.Encode(payload, c.Signer, false)
	if err != nil {
		return nil, fmt.Errorf("sign request envelope: %w", err)
	}
	return env, nil
}

// pollAsync polls async.status(token) every AsyncPollInterval, up to
// AsyncPollBudget attempts, per SPEC_FULL.md 4.7/8 (testable property 9:
// polling always terminates within budget*interval + one backend latency).
func (c *Client) pollAsync(token []byte) (message.ResponseMessage, error) {
	for attempt := 0; attempt < c.AsyncPollBudget; attempt++ {
		time.Sleep(c.AsyncPollInterval)

		args, err := module.EncodeAsyncStatusArgs(token)
		if err != nil {
			return message.ResponseMessage{}, err
		}
		resp, err := c.CallRaw("async.status", args, true)
		if err != nil {
			return message.ResponseMessage{}, err
		}
		if resp.IsError() {
			return resp, resp.Err
		}

		status, err := module.DecodeAsyncStatusReturns(resp.Data)
		if err != nil {
			return message.ResponseMessage{}, manyerr.DeserializationError(err.Error())
		}

		switch status.Status {
		case module.WireAsyncDone:
			inner, err := message.DecodeResponseMessage(status.Response, nil)
			if err != nil {
				return message.ResponseMessage{}, err
			}
			return inner, nil
		case module.WireAsyncExpired:
			return message.ResponseMessage{}, manyerr.AsyncExpired(fmt.Sprintf("%x", token))
		case module.WireAsyncUnknown:
			return message.ResponseMessage{}, manyerr.AsyncUnknown(fmt.Sprintf("%x", token))
		}
	}
	return message.ResponseMessage{}, manyerr.AsyncTimeout()
}
