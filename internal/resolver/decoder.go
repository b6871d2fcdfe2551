package resolver

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrInvalidPath is returned when the input contains no decodable
// two-hex-digit tokens, or anything besides hex digits and separators.
var ErrInvalidPath = errors.New("resolver: path is not a sequence of hex prefixes")

var tokenPattern = regexp.MustCompile(`[0-9a-fA-F]{2}`)

// separatorReplacer strips the accepted token separators before
// validating that the input is purely hex pairs.
var separatorReplacer = strings.NewReplacer(",", "", ":", "", " ", "", "\t", "")

// TokenResult is one path position's outcome: the token as received
// (uppercased for display) and its resolution.
type TokenResult struct {
	Token  string
	Result Result
}

// DecodeResult is a whole path's decode, tokens in path order.
type DecodeResult struct {
	Tokens []TokenResult
}

// Counts tallies the per-token outcomes, for the summary log line and
// for callers that only need the shape of the result.
func (d *DecodeResult) Counts() (resolved, collisions, notFound int) {
	for _, t := range d.Tokens {
		switch t.Result.Kind {
		case Found:
			resolved++
		case Collision:
			collisions++
		case NotFound:
			notFound++
		}
	}
	return
}

// Decoder orchestrates candidate resolution across an entire path.
type Decoder struct {
	resolver *Resolver
	log      zerolog.Logger
}

// NewDecoder creates a Decoder over r.
func NewDecoder(r *Resolver) *Decoder {
	return &Decoder{
		resolver: r,
		log:      log.With().Str("component", "decoder").Logger(),
	}
}

// Decode parses raw (comma-, colon-, space-separated, or concatenated
// hex) into two-hex-digit tokens and resolves each in order. senderKey
// is the packet sender's full public key when known. Decoding is
// best-effort: one token's failure never fails the path, only malformed
// input does.
func (d *Decoder) Decode(ctx context.Context, raw string, senderKey string) (*DecodeResult, error) {
	tokens, err := ParsePath(raw)
	if err != nil {
		return nil, err
	}

	logger := d.log.With().Str("decode_id", uuid.NewString()).Logger()
	start := time.Now()

	path := make([]string, len(tokens))
	for i, t := range tokens {
		path[i] = strings.ToLower(t)
	}

	res := &DecodeResult{Tokens: make([]TokenResult, len(tokens))}
	for i := range path {
		res.Tokens[i] = TokenResult{
			Token:  strings.ToUpper(tokens[i]),
			Result: d.resolver.ResolveToken(ctx, path, i, senderKey),
		}
	}

	resolved, collisions, notFound := res.Counts()
	logger.Info().
		Int("tokens", len(tokens)).
		Int("resolved", resolved).
		Int("collisions", collisions).
		Int("not_found", notFound).
		Dur("elapsed", time.Since(start)).
		Msg("path decoded")

	return res, nil
}

// ParsePath extracts the two-hex-digit tokens from raw, preserving
// order. It rejects input with stray non-hex content or an odd hex
// digit left over.
func ParsePath(raw string) ([]string, error) {
	stripped := separatorReplacer.Replace(strings.TrimSpace(raw))
	if stripped == "" {
		return nil, ErrInvalidPath
	}

	tokens := tokenPattern.FindAllString(stripped, -1)
	if len(tokens) == 0 || len(stripped) != 2*len(tokens) {
		return nil, ErrInvalidPath
	}
	return tokens, nil
}
