// Package caachecker implements the CAA (Certification Authority Authorization,
// RFC 8659) issuance decision for a single perspective: climb the DNS name
// tree looking for a CAA RRset, then decide whether the configured issuer is
// permitted to issue for the requested certificate type.
package caachecker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
)

const (
	issueTag     = "issue"
	issuewildTag = "issuewild"

	// criticalFlagMask matches RFC 8659's critical bit: the high bit of the
	// flags octet.
	criticalFlagMask = 0b10000000
)

// Resolver performs the actual CAA (RR type 257) network lookup for a single
// name. It is satisfied by DNSResolver below; tests may substitute a fake.
type Resolver interface {
	LookupCAA(ctx context.Context, name string) ([]*dns.CAA, error)
}

// DNSResolver resolves CAA records over the network using miekg/dns, trying
// each configured server in order until one answers.
type DNSResolver struct {
	Servers []string
	Timeout time.Duration
}

// NewDNSResolver builds a DNSResolver. servers are "ip:port" recursive
// resolver addresses, tried in order.
func NewDNSResolver(servers []string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{Servers: servers, Timeout: timeout}
}

// LookupCAA queries RR type 257 for name and returns the CAA records found.
// A NXDOMAIN or empty-answer response returns (nil, nil) -- the caller
// interprets that as "no record here, keep climbing". Any transport-level
// failure or SERVFAIL is returned as an error.
func (r *DNSResolver) LookupCAA(ctx context.Context, name string) ([]*dns.CAA, error) {
	if len(r.Servers) == 0 {
		return nil, fmt.Errorf("no DNS servers configured")
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeCAA)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: r.Timeout}

	var lastErr error
	for _, server := range r.Servers {
		resp, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			var records []*dns.CAA
			for _, rr := range resp.Answer {
				if caa, ok := rr.(*dns.CAA); ok {
					records = append(records, caa)
				}
			}
			return records, nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			lastErr = fmt.Errorf("DNS server %s returned rcode %s for %s", server, dns.RcodeToString[resp.Rcode], name)
			continue
		}
	}
	return nil, fmt.Errorf("all DNS servers failed for %s: %w", name, lastErr)
}

// Checker evaluates CAA-based issuance permission for one perspective.
type Checker struct {
	resolver           Resolver
	defaultCaaDomains  []string
}

// NewChecker builds a Checker. defaultCaaDomains is used whenever a request
// does not override caa_domains.
func NewChecker(resolver Resolver, defaultCaaDomains []string) *Checker {
	return &Checker{resolver: resolver, defaultCaaDomains: defaultCaaDomains}
}

// caaSet is the classified contents of a CAA RRset found at one ancestor.
type caaSet struct {
	issue       []string
	issuewild   []string
	critical    bool
	rawAnswer   string
}

func newCAASet(records []*dns.CAA) caaSet {
	var set caaSet
	var lines []string
	for _, rr := range records {
		lines = append(lines, rr.String())
		if rr.Flag&criticalFlagMask != 0 && rr.Tag != issueTag && rr.Tag != issuewildTag {
			set.critical = true
		}
		switch rr.Tag {
		case issueTag:
			set.issue = append(set.issue, rr.Value)
		case issuewildTag:
			set.issuewild = append(set.issuewild, rr.Value)
		}
	}
	set.rawAnswer = strings.Join(lines, "\n")
	return set
}

// permitsIssuance reports whether value (an issue/issuewild tag value) names
// one of caaDomains as a permitted issuer. A value carrying ';' extension
// parameters is conservatively rejected, matching the original checker's
// policy of never parsing CAA parameters.
func permitsIssuance(values []string, caaDomains []string) bool {
	for _, v := range values {
		if strings.ContainsRune(v, ';') {
			continue
		}
		trimmed := strings.TrimSpace(v)
		for _, domain := range caaDomains {
			if strings.EqualFold(trimmed, domain) {
				return true
			}
		}
	}
	return false
}

// findCAASet climbs from target toward the DNS root, returning the first
// CAA RRset found and the ancestor domain it was found at. The climb ends at
// the top-level domain; the root itself is not queried. Returns a nil set
// and empty foundAt if no queried ancestor carries CAA records.
func (c *Checker) findCAASet(ctx context.Context, target string) (*caaSet, string, error) {
	labels := dns.SplitDomainName(target)
	if labels == nil {
		// target was already "." or empty; nothing to climb.
		return nil, "", nil
	}
	for start := 0; start <= len(labels)-1; start++ {
		ancestor := strings.Join(labels[start:], ".")
		records, err := c.resolver.LookupCAA(ctx, ancestor)
		if err != nil {
			return nil, "", fmt.Errorf("CAA lookup failed at %q: %w", ancestor, err)
		}
		if len(records) == 0 {
			continue
		}
		set := newCAASet(records)
		return &set, ancestor, nil
	}
	return nil, "", nil
}

// Check performs the full CAA issuance decision for one perspective's view of
// request.
func (c *Checker) Check(ctx context.Context, request mpictypes.CheckRequest, timestampNS int64, perspectiveCode string) mpictypes.CheckResponse {
	caaDomains := c.defaultCaaDomains
	isWildcard := false
	if request.CaaParams != nil {
		if len(request.CaaParams.CaaDomains) > 0 {
			caaDomains = request.CaaParams.CaaDomains
		}
		isWildcard = request.CaaParams.CertificateType == mpictypes.CertTypeTLSServerWildcard
	}

	set, foundAt, err := c.findCAASet(ctx, request.DomainOrIPTarget)
	if err != nil {
		return mpictypes.CheckResponse{
			PerspectiveCode: perspectiveCode,
			CheckPassed:     false,
			TimestampNS:     timestampNS,
			Errors: []mpictypes.ErrorMessage{{
				ErrorType:    "caa_lookup_error",
				ErrorMessage: err.Error(),
			}},
		}
	}

	if set == nil {
		return mpictypes.CheckResponse{
			PerspectiveCode: perspectiveCode,
			CheckPassed:     true,
			TimestampNS:     timestampNS,
			CaaDetails: &mpictypes.CaaCheckResponseDetails{
				CaaRecordPresent: false,
			},
		}
	}

	passed := isValidForIssuance(*set, isWildcard, caaDomains)

	return mpictypes.CheckResponse{
		PerspectiveCode: perspectiveCode,
		CheckPassed:     passed,
		TimestampNS:     timestampNS,
		CaaDetails: &mpictypes.CaaCheckResponseDetails{
			CaaRecordPresent: true,
			FoundAt:          foundAt,
			ResponseText:     set.rawAnswer,
		},
	}
}

// isValidForIssuance implements the decision table from the CAA checker
// design: a critical-unknown tag always wins, then wildcard issuewild tags
// are consulted before falling back to issue tags.
func isValidForIssuance(set caaSet, isWildcard bool, caaDomains []string) bool {
	if set.critical {
		return false
	}
	if isWildcard && len(set.issuewild) > 0 {
		return permitsIssuance(set.issuewild, caaDomains)
	}
	if len(set.issue) > 0 {
		return permitsIssuance(set.issue, caaDomains)
	}
	return true
}
