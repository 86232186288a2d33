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

package listener

import (
	"context"
	"errors"
	"testing"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/mail"
)

// stub is a configurable test listener.
type stub struct {
	applicable bool
	attr       *Attributation
	beforeErr  error
	after      AfterResult
	afterCalls int
}

func (s *stub) Applicable(mail.FetchArguments, *account.Account) bool { return s.applicable }

func (s *stub) BeforeFetch(_ context.Context, _ mail.FetchArguments, fields mail.FieldSet, headers []string) (*Attributation, error) {
	return s.attr, s.beforeErr
}

func (s *stub) AfterFetch(_ context.Context, msgs []*mail.Message, cacheable bool) AfterResult {
	s.afterCalls++
	return s.after
}

func args() mail.FetchArguments {
	return mail.FetchArguments{
		Folder: mail.FolderID{AccountID: 0, Fullname: "INBOX"},
		Fields: mail.NewFieldSet(mail.FieldID, mail.FieldFolderID),
	}
}

func TestChainFor_AppliesPredicate(t *testing.T) {
	in := &stub{applicable: true}
	out := &stub{applicable: false}
	r := NewRegistry(in, out)

	chain := r.ChainFor(args(), &account.Account{})
	if chain.Empty() {
		t.Fatal("chain with one applicable listener reported empty")
	}
	chain.AfterFetch(context.Background(), nil, true)
	if in.afterCalls != 1 {
		t.Error("applicable listener not invoked")
	}
	if out.afterCalls != 0 {
		t.Error("inapplicable listener invoked")
	}
}

func TestChain_NilRegistryPassThrough(t *testing.T) {
	var r *Registry
	chain := r.ChainFor(args(), nil)
	if !chain.Empty() {
		t.Fatal("nil registry must give an empty chain")
	}
	msgs, cacheable, err := chain.AfterFetch(context.Background(), nil, true)
	if err != nil || !cacheable || msgs != nil {
		t.Fatal("empty chain must pass through unchanged")
	}
}

func TestChain_BeforeFetchAttributation(t *testing.T) {
	override := mail.NewFieldSet(mail.FieldID, mail.FieldFolderID, mail.FieldHeaders)
	l := &stub{applicable: true, attr: &Attributation{Fields: override, Headers: []string{"X-Spam-Score"}}}
	chain := NewRegistry(l).ChainFor(args(), nil)

	fields, headers, err := chain.BeforeFetch(context.Background(), args(), mail.NewFieldSet(mail.FieldID), nil)
	if err != nil {
		t.Fatalf("BeforeFetch: %v", err)
	}
	if fields != override {
		t.Errorf("fields = %v, want attributation override", fields)
	}
	if len(headers) != 1 || headers[0] != "X-Spam-Score" {
		t.Errorf("headers = %v", headers)
	}
}

func TestChain_DenyCarriesListenerError(t *testing.T) {
	denied := mail.NewError(mail.KindListenerDenied, "guard rejected folder")
	l := &stub{applicable: true, after: AfterResult{Reply: ReplyDeny, Err: denied}}
	chain := NewRegistry(l).ChainFor(args(), nil)

	_, _, err := chain.AfterFetch(context.Background(), nil, true)
	if !errors.Is(err, denied) {
		t.Fatalf("error = %v, want listener-supplied error", err)
	}
}

// TestChain_DenyWithoutErrorGetsGenericFallback: a DENY with no explicit
// error must yield the generic listener failure, not a nil error or
// silent empty result.
func TestChain_DenyWithoutErrorGetsGenericFallback(t *testing.T) {
	l := &stub{applicable: true, after: AfterResult{Reply: ReplyDeny}}
	chain := NewRegistry(l).ChainFor(args(), nil)

	_, _, err := chain.AfterFetch(context.Background(), nil, true)
	if err == nil {
		t.Fatal("deny without error must still fail")
	}
	if !mail.IsKind(err, mail.KindListenerDenied) {
		t.Fatalf("kind = %v, want listener_denied", mail.KindOf(err))
	}
}

func TestChain_CacheableOnlyDowngrades(t *testing.T) {
	downgrade := &stub{applicable: true, after: AfterResult{Reply: ReplyAccept, DenyCache: true}}
	neutral := &stub{applicable: true, after: AfterResult{Reply: ReplyNeutral}}
	chain := NewRegistry(downgrade, neutral).ChainFor(args(), nil)

	_, cacheable, err := chain.AfterFetch(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("AfterFetch: %v", err)
	}
	if cacheable {
		t.Error("downgrade did not stick through later neutral listener")
	}

	// Starting from false it can never come back.
	chain2 := NewRegistry(neutral).ChainFor(args(), nil)
	if _, cacheable, _ := chain2.AfterFetch(context.Background(), nil, false); cacheable {
		t.Error("cacheability upgraded by neutral listener")
	}
}

func TestChain_RewriteMessages(t *testing.T) {
	redacted := &mail.Message{}
	redacted.SetID("1")
	redacted.SetSubject("[redacted]")
	l := &stub{applicable: true, after: AfterResult{Reply: ReplyAccept, Messages: []*mail.Message{redacted}}}
	chain := NewRegistry(l).ChainFor(args(), nil)

	orig := &mail.Message{}
	orig.SetID("1")
	orig.SetSubject("secret")
	msgs, _, err := chain.AfterFetch(context.Background(), []*mail.Message{orig}, true)
	if err != nil {
		t.Fatalf("AfterFetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Subject != "[redacted]" {
		t.Fatalf("rewrite not applied: %+v", msgs)
	}
}
