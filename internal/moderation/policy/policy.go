// Package policy holds content predicates: does a message violate policy for its sender.
package policy

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	pstrings "chatgate/pkg/platform/strings"
)

// Policy is the predicate the decider consults.
type Policy interface {
	Violates(ctx context.Context, message, sender string) (bool, error)
}

// IdentitySource lists the known identities.
type IdentitySource interface {
	AllIdentities(ctx context.Context) ([]string, error)
}

// fold returns the caseless form of s. A Caser carries state, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

// MentionPolicy flags messages that mention any other known identity's handle,
// compared caselessly as a substring. The sender naming themselves is allowed.
type MentionPolicy struct {
	identities IdentitySource
	group      singleflight.Group
}

func NewMentionPolicy(identities IdentitySource) *MentionPolicy {
	return &MentionPolicy{identities: identities}
}

func (p *MentionPolicy) Violates(ctx context.Context, message, sender string) (bool, error) {
	if message == "" {
		return false, nil
	}
	ids, err := p.snapshot(ctx)
	if err != nil {
		return false, err
	}

	folded := fold(message)
	for _, id := range ids {
		if id == "" || id == sender {
			continue
		}
		if strings.Contains(folded, fold(id)) {
			return true, nil
		}
	}
	return false, nil
}

// snapshot shares one identity listing among concurrent callers.
func (p *MentionPolicy) snapshot(ctx context.Context) ([]string, error) {
	ch := p.group.DoChan("identities", func() (any, error) {
		return p.identities.AllIdentities(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("load known identities: %w", res.Err)
		}
		return res.Val.([]string), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TermPolicy flags messages containing any configured term, caselessly.
type TermPolicy struct {
	terms []string
}

func NewTermPolicy(terms []string) *TermPolicy {
	return &TermPolicy{terms: pstrings.DedupeBy(terms, fold)}
}

func (p *TermPolicy) Violates(_ context.Context, message, _ string) (bool, error) {
	if len(p.terms) == 0 || message == "" {
		return false, nil
	}
	folded := fold(message)
	for _, t := range p.terms {
		if strings.Contains(folded, t) {
			return true, nil
		}
	}
	return false, nil
}

// anyOf evaluates its policies concurrently; any violation wins, any error fails.
type anyOf []Policy

// AnyOf combines policies. A single policy is returned unchanged.
func AnyOf(policies ...Policy) Policy {
	var ps anyOf
	for _, p := range policies {
		if p != nil {
			ps = append(ps, p)
		}
	}
	if len(ps) == 1 {
		return ps[0]
	}
	return ps
}

func (ps anyOf) Violates(ctx context.Context, message, sender string) (bool, error) {
	results := make([]bool, len(ps))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range ps {
		g.Go(func() error {
			v, err := p.Violates(gctx, message, sender)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, v := range results {
		if v {
			return true, nil
		}
	}
	return false, nil
}
