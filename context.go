package agentpod

import "context"

type requestInfoKey struct{}

// requestInfo carries gateway identifiers for one logical request. Gateways
// such as KeywordsAI read them from request metadata to group and bill calls.
type requestInfo struct {
	sessionID  string
	customerID string
	metadata   map[string]string
}

func requestInfoFrom(ctx context.Context) requestInfo {
	ri, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	return ri
}

func withRequestInfo(ctx context.Context, update func(*requestInfo)) context.Context {
	ri := requestInfoFrom(ctx)
	md := make(map[string]string, len(ri.metadata))
	for k, v := range ri.metadata {
		md[k] = v
	}
	ri.metadata = md
	update(&ri)
	return context.WithValue(ctx, requestInfoKey{}, ri)
}

// WithSessionID tags calls made with ctx with a session identifier. It is
// sent as the "custom_identifier" metadata entry.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withRequestInfo(ctx, func(ri *requestInfo) { ri.sessionID = id })
}

// WithCustomerID tags calls made with ctx with an end-user identifier. It is
// sent as the request user and as "customer_identifier" metadata.
func WithCustomerID(ctx context.Context, id string) context.Context {
	return withRequestInfo(ctx, func(ri *requestInfo) { ri.customerID = id })
}

// WithRequestMetadata adds free-form metadata to calls made with ctx.
// Later values override earlier ones for the same key.
func WithRequestMetadata(ctx context.Context, md map[string]string) context.Context {
	return withRequestInfo(ctx, func(ri *requestInfo) {
		for k, v := range md {
			ri.metadata[k] = v
		}
	})
}

// requestMetadata returns the metadata map to send, or nil when empty.
func (ri requestInfo) requestMetadata() map[string]string {
	if ri.sessionID == "" && ri.customerID == "" && len(ri.metadata) == 0 {
		return nil
	}
	md := make(map[string]string, len(ri.metadata)+2)
	for k, v := range ri.metadata {
		md[k] = v
	}
	if ri.sessionID != "" {
		md["custom_identifier"] = ri.sessionID
	}
	if ri.customerID != "" {
		md["customer_identifier"] = ri.customerID
	}
	return md
}
