// Package action extracts trade directives from agent responses.
//
// The grammar, matched case-insensitively, is:
//
//	directive = "ACTION:" ws* side ws* amount ws* ticker
//	side      = "BUY" | "SELL"
//	amount    = digit+ [ "." digit+ ]
//	ticker    = (letter | digit)+
//
// The first well-formed directive in the text wins. Malformed directives, such as a
// signed amount or a missing ticker, are skipped and scanning continues after them.
package action

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const marker = "ACTION:"

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Intent is a parsed trade directive. The ticker is upper-cased but not yet checked
// against the asset registry.
type Intent struct {
	Side   Side
	Amount decimal.Decimal
	Ticker string
}

func (i Intent) String() string {
	return fmt.Sprintf("%s %s %s", i.Side, i.Amount.String(), i.Ticker)
}

// Parse returns the first well-formed directive in text.
func Parse(text string) (Intent, bool) {
	for i := 0; i+len(marker) <= len(text); i++ {
		if !strings.EqualFold(text[i:i+len(marker)], marker) {
			continue
		}
		if intent, ok := parseDirective(text[i+len(marker):]); ok {
			return intent, true
		}
	}
	return Intent{}, false
}

func parseDirective(s string) (Intent, bool) {
	p := scanner{s: s}
	p.skipSpace()

	var side Side
	switch {
	case p.consumeFold(string(Buy)):
		side = Buy
	case p.consumeFold(string(Sell)):
		side = Sell
	default:
		return Intent{}, false
	}
	p.skipSpace()

	raw, ok := p.amount()
	if !ok {
		return Intent{}, false
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return Intent{}, false
	}
	p.skipSpace()

	ticker := p.while(isAlnum)
	if ticker == "" {
		return Intent{}, false
	}

	return Intent{Side: side, Amount: amount, Ticker: strings.ToUpper(ticker)}, true
}

type scanner struct {
	s   string
	pos int
}

func (p *scanner) skipSpace() {
	p.while(func(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' })
}

func (p *scanner) consumeFold(word string) bool {
	end := p.pos + len(word)
	if end > len(p.s) || !strings.EqualFold(p.s[p.pos:end], word) {
		return false
	}
	p.pos = end
	return true
}

func (p *scanner) while(pred func(byte) bool) string {
	start := p.pos
	for p.pos < len(p.s) && pred(p.s[p.pos]) {
		p.pos++
	}
	return p.s[start:p.pos]
}

// amount scans digit+ ["." digit+]. A trailing dot without digits is malformed.
func (p *scanner) amount() (string, bool) {
	start := p.pos
	if p.while(isDigit) == "" {
		return "", false
	}
	if p.pos < len(p.s) && p.s[p.pos] == '.' {
		p.pos++
		if p.while(isDigit) == "" {
			return "", false
		}
	}
	return p.s[start:p.pos], true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlnum(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
