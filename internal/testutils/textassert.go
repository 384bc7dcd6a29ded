// Package testutils holds assertion helpers shared by package tests.
package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T the asserters need.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	EnableColors             bool `default:"false"`
}

type TextOption func(*TextAssertOptions)

func WithTrimSpace(v bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = v }
}

func WithIgnoreEmptyLines(v bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = v }
}

func WithColors(v bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = v }
}

// TextAsserter compares multi-line output and reports a unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	o := TextAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TextAsserter{t: t, options: o}
}

// Assert fails the test with a unified diff when the texts differ after
// normalisation.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	if d := ta.Diff(actual, expected); d != "" {
		ta.t.Errorf("text mismatch:\n%s", d)
		return false
	}
	return true
}

// Diff returns "" for equal texts.
func (ta *TextAsserter) Diff(actual, expected string) string {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if ta.options.EnableColors {
		unified = colorize(unified)
	}
	return unified
}

func (ta *TextAsserter) normalize(s string) string {
	if ta.options.TrimSpace {
		s = strings.TrimSpace(s)
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if ta.options.IgnoreTrailingWhitespace {
			l = strings.TrimRight(l, " \t\r")
		}
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n") + "\n"
}

func colorize(diff string) string {
	red, green, cyan := color.New(color.FgRed), color.New(color.FgGreen), color.New(color.FgCyan)
	for _, c := range []*color.Color{red, green, cyan} {
		c.EnableColor()
	}

	lines := strings.Split(diff, "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "---"), strings.HasPrefix(l, "+++"):
		case strings.HasPrefix(l, "@@"):
			lines[i] = cyan.Sprint(l)
		case strings.HasPrefix(l, "-"):
			lines[i] = red.Sprint(l)
		case strings.HasPrefix(l, "+"):
			lines[i] = green.Sprint(l)
		}
	}
	return strings.Join(lines, "\n")
}
