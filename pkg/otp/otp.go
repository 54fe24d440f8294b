// Package otp issues numeric one-time verification codes.
package otp

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
	"time"
)

const (
	DefaultLength = 6
	DefaultWindow = time.Hour
)

// Generator produces fixed-length numeric codes with an expiry.
type Generator struct {
	length int
	window time.Duration
	now    func() time.Time
	random io.Reader
}

// Option customizes a Generator.
type Option func(*Generator)

// WithLength sets the number of digits per code.
func WithLength(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.length = n
		}
	}
}

// WithWindow sets how long a code stays valid.
func WithWindow(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithRandom overrides the random source.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		if r != nil {
			g.random = r
		}
	}
}

// NewGenerator builds a generator with 6 digits and a one hour window by default.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		length: DefaultLength,
		window: DefaultWindow,
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Generate returns a new code and the instant at which it stops being valid.
func (g *Generator) Generate() (string, time.Time, error) {
	var b strings.Builder
	b.Grow(g.length)
	ten := big.NewInt(10)
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(g.random, ten)
		if err != nil {
			return "", time.Time{}, err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), g.now().UTC().Add(g.window), nil
}

// Window reports the configured validity window.
func (g *Generator) Window() time.Duration {
	return g.window
}
