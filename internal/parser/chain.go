package parser

import (
	"github.com/PuerkitoBio/goquery"
)

// Strategy is one way of locating a field in a document. TryExtract reports
// false only when the strategy's selector matched nothing; a match that yields
// an empty value still counts as success.
type Strategy[T any] interface {
	TryExtract(root *goquery.Selection) (T, bool)
}

// Select matches a CSS selector below root and hands every match to Access.
// An empty Selector addresses root itself.
type Select[T any] struct {
	Selector string
	Access   func(*goquery.Selection) T
}

func (s Select[T]) TryExtract(root *goquery.Selection) (T, bool) {
	var zero T
	if root == nil || root.Length() == 0 {
		return zero, false
	}

	matched := root
	if s.Selector != "" {
		matched = root.Find(s.Selector)
	}
	if matched.Length() == 0 {
		return zero, false
	}

	return s.Access(matched), true
}

// By is shorthand for a Select strategy.
func By[T any](selector string, access func(*goquery.Selection) T) Strategy[T] {
	return Select[T]{Selector: selector, Access: access}
}

// Func adapts a plain function into a Strategy, for values that are computed
// from several nodes at once.
type Func[T any] func(root *goquery.Selection) (T, bool)

func (f Func[T]) TryExtract(root *goquery.Selection) (T, bool) {
	return f(root)
}

// Chain is an ordered list of strategies. The first strategy that matches
// decides the value; later strategies are never consulted.
type Chain[T any] []Strategy[T]

func (c Chain[T]) TryExtract(root *goquery.Selection) (T, bool) {
	for _, strategy := range c {
		if value, ok := strategy.TryExtract(root); ok {
			return value, true
		}
	}

	var zero T
	return zero, false
}

// Extract returns the chain's value or def when no strategy matched.
func (c Chain[T]) Extract(root *goquery.Selection, def T) T {
	if value, ok := c.TryExtract(root); ok {
		return value
	}
	return def
}
