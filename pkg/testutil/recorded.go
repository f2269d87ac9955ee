package testutil

import "time"

// FeedRequest records one request received by MockTeslaFiServer.
type FeedRequest struct {
	Timestamp     time.Time
	Command       string
	Params        map[string]string
	Authorization string
}

// ServiceCall records a Home Assistant service call received by
// MockHAServer.
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]interface{}
}

// FilterRequests returns the feed requests for command.
func FilterRequests(requests []FeedRequest, command string) []FeedRequest {
	var filtered []FeedRequest
	for _, req := range requests {
		if req.Command == command {
			filtered = append(filtered, req)
		}
	}
	return filtered
}

// LastRequest returns the most recent request for command, or nil.
func LastRequest(requests []FeedRequest, command string) *FeedRequest {
	for i := len(requests) - 1; i >= 0; i-- {
		if requests[i].Command == command {
			return &requests[i]
		}
	}
	return nil
}

// FilterServiceCalls filters service calls by domain and service.
func FilterServiceCalls(calls []ServiceCall, domain, service string) []ServiceCall {
	var filtered []ServiceCall
	for _, call := range calls {
		if call.Domain == domain && call.Service == service {
			filtered = append(filtered, call)
		}
	}
	return filtered
}
