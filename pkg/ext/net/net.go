// Package net provides the net. extension: outbound HTTP requests for
// Kabap scripts. Like the file extension it widens the sandbox, so the
// host must opt in explicitly.
package net

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kabaplang/kabap-go/pkg/extension"
)

const prefix = "net"

const (
	connectTimeout = 5 * time.Second
	requestTimeout = 20 * time.Second
)

// maxResponseSize caps what a script can pull into memory (2 MB).
const maxResponseSize = 2 * 1024 * 1024

// Extension implements a request builder: scripts set net.method,
// net.url, net.data and net.header, trigger net.request, then read
// net.status and net.response.
type Extension struct {
	client *http.Client

	requested    bool
	method       string
	url          string
	headers      map[string]string
	postData     string
	responseCode int
	responseData string
}

// New creates the extension. A nil client gets a timeout-bound default.
func New(client *http.Client) *Extension {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	x := &Extension{client: client}
	x.Reset()
	return x
}

// ID identifies the extension for deduplication and removal.
func (x *Extension) ID() string { return "net" }

// Register declines anything but a version 1 engine.
func (x *Extension) Register(version int, debug bool) (string, bool) {
	if version != 1 {
		return "", false
	}
	return prefix, true
}

// Reset clears the pending request back to a GET with no URL.
func (x *Extension) Reset() {
	x.requested = false
	x.method = "GET"
	x.url = ""
	x.headers = make(map[string]string)
	x.postData = ""
	x.responseCode = -1
	x.responseData = ""
}

// Handle processes net operation messages; unknown keys are ignored.
func (x *Extension) Handle(msg *extension.Message) *extension.Message {
	parts := strings.Split(strings.ToLower(msg.Name), ".")
	if len(parts) != 2 {
		msg.Result = extension.Ignored
		return msg
	}

	switch {
	case parts[1] == "reset" && msg.Type == extension.Read:
		x.Reset()
		msg.Value = "1"
		msg.Result = extension.HandledOkay

	case parts[1] == "method":
		if msg.Type == extension.Read {
			msg.Value = x.method
			msg.Result = extension.HandledOkay
		} else {
			m := strings.ToUpper(msg.Value)
			if m != "GET" && m != "POST" {
				msg.Value = "Method must be GET or POST"
				msg.Result = extension.HandledFail
			} else {
				x.method = m
				msg.Result = extension.HandledOkay
			}
		}

	case parts[1] == "url":
		if msg.Type == extension.Read {
			msg.Value = x.url
		} else {
			x.url = strings.TrimSpace(msg.Value)
		}
		msg.Result = extension.HandledOkay

	case parts[1] == "data":
		if msg.Type == extension.Read {
			msg.Value = x.postData
		} else {
			x.postData = msg.Value
		}
		msg.Result = extension.HandledOkay

	case parts[1] == "header" && msg.Type == extension.Write:
		kv := strings.Split(strings.TrimSpace(msg.Value), ":")
		switch {
		case len(kv) != 2:
			msg.Value = "A header can contain only 1 colon"
			msg.Result = extension.HandledFail
		case strings.TrimSpace(kv[0]) == "":
			msg.Value = "Header key cannot be empty"
			msg.Result = extension.HandledFail
		case strings.TrimSpace(kv[1]) == "":
			msg.Value = "Header value cannot be empty"
			msg.Result = extension.HandledFail
		default:
			x.headers[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			msg.Value = "1"
			msg.Result = extension.HandledOkay
		}

	case parts[1] == "status" && msg.Type == extension.Read:
		if x.checkRequested(msg) {
			msg.Value = strconv.Itoa(x.responseCode)
			msg.Result = extension.HandledOkay
		}

	case parts[1] == "response" && msg.Type == extension.Read:
		if x.checkRequested(msg) {
			msg.Value = x.responseData
			msg.Result = extension.HandledOkay
		}

	case parts[1] == "request" && msg.Type == extension.Read:
		x.request(msg)

	default:
		msg.Result = extension.Ignored
	}

	return msg
}

// request performs the configured HTTP call. Both success and error
// bodies are captured; only transport failures fail the reference.
func (x *Extension) request(msg *extension.Message) {
	if x.url == "" {
		msg.Value = "URL has not been set"
		msg.Result = extension.HandledFail
		return
	}

	x.responseCode = -1
	x.responseData = ""
	x.requested = true

	var body io.Reader
	if x.method == "POST" && x.postData != "" {
		body = strings.NewReader(x.postData)
	}

	req, err := http.NewRequest(x.method, x.url, body)
	if err != nil {
		msg.Value = "Protocol exception: " + err.Error()
		msg.Result = extension.HandledFail
		return
	}
	for k, v := range x.headers {
		req.Header.Set(k, v)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		msg.Value = "I/O exception: " + err.Error()
		msg.Result = extension.HandledFail
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		msg.Value = "I/O exception: " + err.Error()
		msg.Result = extension.HandledFail
		return
	}

	x.responseCode = resp.StatusCode
	x.responseData = string(data)
	msg.Value = "1"
	msg.Result = extension.HandledOkay
}

// checkRequested fails the message until a request has been made.
func (x *Extension) checkRequested(msg *extension.Message) bool {
	if !x.requested {
		msg.Value = "Network request has not been made yet"
		msg.Result = extension.HandledFail
		return false
	}
	return true
}
