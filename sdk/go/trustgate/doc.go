// Package trustgate is the caller-side client for a running trustgate
// sidecar. It wraps the proxy call (with typed warn/block rejections and
// one-shot override retry), compensation, and audit trace queries.
//
// Basic usage:
//
//	client, err := trustgate.New(trustgate.WithBaseURL("http://localhost:8777"))
//	if err != nil { ... }
//
//	resp, err := client.Call(ctx, "billing-agent", payload)
//	var warn *trustgate.WarnError
//	if errors.As(err, &warn) && warn.Overridable {
//		resp, err = client.Call(ctx, "billing-agent", payload,
//			trustgate.WithOverride(), trustgate.WithTraceID(warn.TraceID))
//	}
package trustgate
