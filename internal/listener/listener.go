// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package listener implements the pluggable pre/post-fetch interception
// pipeline. Listeners are registered once at construction as an ordered
// collection; the chain applied to a request is determined fresh per call
// from each listener's applicability predicate.
//
// Listener side effects must be idempotent: the same chain may run twice
// when the surrounding operation is retried.
package listener

import (
	"context"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/mail"
)

// Attributation overrides the effective field/header set for the
// downstream storage call.
type Attributation struct {
	Fields  mail.FieldSet
	Headers []string
}

// Reply is a listener's post-fetch verdict.
type Reply int

const (
	// ReplyNeutral means the listener has nothing to say.
	ReplyNeutral Reply = iota

	// ReplyAccept means proceed, possibly with rewritten messages
	// and/or a cacheability downgrade.
	ReplyAccept

	// ReplyDeny aborts the fetch with the carried error.
	ReplyDeny
)

// AfterResult is the outcome of one listener's post-fetch hook.
type AfterResult struct {
	Reply Reply

	// Messages, when non-nil, replaces the message array (enrichment,
	// redaction, filtering).
	Messages []*mail.Message

	// DenyCache forces the result non-cacheable. Cacheability can only
	// be downgraded, never upgraded.
	DenyCache bool

	// Err is carried on ReplyDeny. May be nil; the chain substitutes a
	// generic listener-failure error then.
	Err error
}

// FetchListener intercepts fetches it declares itself applicable to.
type FetchListener interface {
	// Applicable decides per request whether this listener joins the
	// chain for the given fetch.
	Applicable(args mail.FetchArguments, acct *account.Account) bool

	// BeforeFetch may return an attributation overriding the resolved
	// field/header set. A nil result leaves the set unchanged.
	BeforeFetch(ctx context.Context, args mail.FetchArguments, fields mail.FieldSet, headers []string) (*Attributation, error)

	// AfterFetch inspects or rewrites the fetched messages.
	AfterFetch(ctx context.Context, msgs []*mail.Message, cacheable bool) AfterResult
}

// Registry is the ordered collection of registered listeners, injected
// into the coordinator at construction.
type Registry struct {
	listeners []FetchListener
}

// NewRegistry creates a registry with the given listeners in order.
func NewRegistry(listeners ...FetchListener) *Registry {
	return &Registry{listeners: listeners}
}

// ChainFor builds the request-scoped chain of applicable listeners.
func (r *Registry) ChainFor(args mail.FetchArguments, acct *account.Account) Chain {
	if r == nil {
		return Chain{}
	}
	var applicable []FetchListener
	for _, l := range r.listeners {
		if l.Applicable(args, acct) {
			applicable = append(applicable, l)
		}
	}
	return Chain{listeners: applicable}
}

// Chain is the set of listeners applicable to one fetch.
type Chain struct {
	listeners []FetchListener
}

// Empty reports whether the chain is a pass-through.
func (c Chain) Empty() bool { return len(c.listeners) == 0 }

// BeforeFetch runs every pre-fetch hook in order. Each listener sees the
// field/header set as rewritten by its predecessors.
func (c Chain) BeforeFetch(ctx context.Context, args mail.FetchArguments, fields mail.FieldSet, headers []string) (mail.FieldSet, []string, error) {
	for _, l := range c.listeners {
		attr, err := l.BeforeFetch(ctx, args, fields, headers)
		if err != nil {
			return fields, headers, err
		}
		if attr != nil {
			fields = attr.Fields
			headers = attr.Headers
		}
	}
	return fields, headers, nil
}

// AfterFetch runs every post-fetch hook in order and returns the final
// message array and cacheability. A deny aborts with the listener's
// error, or the generic fallback when the listener supplied none.
func (c Chain) AfterFetch(ctx context.Context, msgs []*mail.Message, cacheable bool) ([]*mail.Message, bool, error) {
	for _, l := range c.listeners {
		res := l.AfterFetch(ctx, msgs, cacheable)
		if res.Reply == ReplyDeny {
			err := res.Err
			if err == nil {
				err = mail.NewError(mail.KindListenerDenied, "listener processing failed")
			}
			return nil, false, err
		}
		if res.Messages != nil {
			msgs = res.Messages
		}
		if res.DenyCache {
			cacheable = false
		}
	}
	return msgs, cacheable, nil
}
