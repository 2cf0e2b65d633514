// Package callapi provides types, interfaces, and helpers for dispatching HTTP
// API calls through one of two execution paths and receiving a uniform
// response envelope.
//
// # Overview
//
// A Dispatcher is bound at construction to an ExecutionContext. The client
// context sends requests through a browser-style HTTP client and reads the
// bearer token from persistent key-value storage. The server context sends
// requests through a pooled platform HTTP client, reads the bearer token from
// the cookies of the inbound request and forwards cache directives to a
// FetchCache. Both paths return an *Envelope; failures are reported inside the
// envelope rather than as Go errors.
//
// Getting a dispatcher
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fivetwenty-io/callapi/pkg/callapi"
//	  "github.com/fivetwenty-io/callapi/pkg/dispatcher"
//	)
//
//	type Post struct {
//	  ID    int    `json:"id"`
//	  Title string `json:"title"`
//	}
//
//	func example() {
//	  ctx := context.Background()
//	  d, err := dispatcher.New(&callapi.Config{
//	    BaseURL: "https://api.example.com",
//	    Context: callapi.ServerContext,
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  env := callapi.Get[[]Post](ctx, d, "/posts", callapi.Params{"page": 1},
//	    &callapi.CacheDirectives{Revalidate: time.Hour, Tags: []string{"posts"}})
//	  if !env.Success { log.Println(env.Error) }
//	}
//
// # Raising errors
//
// Envelopes never carry Go errors. Call sites that prefer error returns wrap
// the envelope with Unwrap, which yields an *APIError for failed calls:
//
//	posts, err := callapi.Unwrap(callapi.Get[[]Post](ctx, d, "/posts", nil, nil))
//
// # Cache keys and queries
//
// DeriveKey builds a deterministic QueryKey from an endpoint and its params or
// body. QueryClient uses those keys to cache successful envelopes, collapse
// identical in-flight fetches and invalidate by key prefix after mutations.
package callapi
