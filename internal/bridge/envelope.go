package bridge

import (
	"context"
	"errors"

	"github.com/leapstack-labs/qasmlens/internal/analysis"
	"github.com/tidwall/gjson"
)

// checkEnvelope verifies raw is a JSON object carrying a boolean success
// field. Nothing else in the payload is inspected.
func checkEnvelope(raw []byte) error {
	if len(raw) == 0 {
		return errors.New("empty response")
	}
	if !gjson.ValidBytes(raw) {
		return errors.New("response is not valid JSON")
	}
	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		return errors.New("response is not an object")
	}
	success := res.Get("success")
	if success.Type != gjson.True && success.Type != gjson.False {
		return errors.New("response has no boolean success field")
	}
	return nil
}

// Format calls the format operation. An engine-level failure is reported in
// the result envelope, not as an error.
func (b *Bridge) Format(ctx context.Context, src string, unescape bool) (*analysis.FormatResult, error) {
	raw, err := b.Call(ctx, analysis.OpFormat, src, unescape)
	if err != nil {
		return nil, err
	}
	res, err := analysis.DecodeFormat(raw)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Op: analysis.OpFormat, Message: msgInvalidResponse, Err: err}
	}
	return res, nil
}

// Highlight calls the highlight operation.
func (b *Bridge) Highlight(ctx context.Context, src string) (*analysis.HighlightResult, error) {
	raw, err := b.Call(ctx, analysis.OpHighlight, src)
	if err != nil {
		return nil, err
	}
	res, err := analysis.DecodeHighlight(raw)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Op: analysis.OpHighlight, Message: msgInvalidResponse, Err: err}
	}
	return res, nil
}

// Lint calls the lint operation.
func (b *Bridge) Lint(ctx context.Context, src string) (*analysis.LintResult, error) {
	raw, err := b.Call(ctx, analysis.OpLint, src)
	if err != nil {
		return nil, err
	}
	res, err := analysis.DecodeLint(raw)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Op: analysis.OpLint, Message: msgInvalidResponse, Err: err}
	}
	return res, nil
}
