package touchpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInputAccepted(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  Type
	}{
		{
			name:  "profile enrich by identifier",
			input: map[string]any{"type": "profile_enrich", "public_identifier": "jane-doe"},
			want:  TypeProfileEnrich,
		},
		{
			name:  "profile enrich by url",
			input: map[string]any{"type": "profile_enrich", "url": "https://www.linkedin.com/in/jane-doe/"},
			want:  TypeProfileEnrich,
		},
		{
			name: "profile visit",
			input: map[string]any{
				"type": "profile_visit", "url": "https://www.linkedin.com/in/jane-doe/",
				"duration_s": 5.0, "scroll_depth": 3,
			},
			want: TypeProfileVisit,
		},
		{
			name:  "connect with note",
			input: map[string]any{"type": "connect", "url": "https://www.linkedin.com/in/jane-doe/", "note": "Hi Jane"},
			want:  TypeConnect,
		},
		{
			name:  "direct message",
			input: map[string]any{"type": "direct_message", "url": "https://www.linkedin.com/in/jane-doe/", "message": "Hello"},
			want:  TypeDirectMessage,
		},
		{
			name:  "post react",
			input: map[string]any{"type": "post_react", "post_url": "https://www.linkedin.com/posts/x", "reaction": "CELEBRATE"},
			want:  TypePostReact,
		},
		{
			name:  "post comment",
			input: map[string]any{"type": "post_comment", "post_url": "https://www.linkedin.com/posts/x", "comment_text": "Great"},
			want:  TypePostComment,
		},
		{
			name:  "inmail",
			input: map[string]any{"type": "inmail", "profile_url": "https://www.linkedin.com/in/jane-doe/", "body": "Hi"},
			want:  TypeInMail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateInput(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateInputRejected(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
	}{
		{"missing type", map[string]any{"url": "https://example.com"}},
		{"unknown type", map[string]any{"type": "carrier_pigeon"}},
		{"non-string type", map[string]any{"type": 7}},
		{"enrich without identifier or url", map[string]any{"type": "profile_enrich"}},
		{"visit without url", map[string]any{"type": "profile_visit", "duration_s": 5.0}},
		{"visit with negative scroll depth", map[string]any{"type": "profile_visit", "url": "https://x", "scroll_depth": -1}},
		{"message without text", map[string]any{"type": "direct_message", "url": "https://x"}},
		{"empty message", map[string]any{"type": "direct_message", "url": "https://x", "message": ""}},
		{"react with bad reaction", map[string]any{"type": "post_react", "post_url": "https://x", "reaction": "MEH"}},
		{"comment without text", map[string]any{"type": "post_comment", "post_url": "https://x"}},
		{"inmail without body", map[string]any{"type": "inmail", "profile_url": "https://x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateInput(tt.input)
			require.Error(t, err)

			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "expected *ValidationError, got %T", err)
			assert.NotEmpty(t, ve.Errors)
		})
	}
}

func TestQuotaCategory(t *testing.T) {
	assert.Equal(t, CategoryConnect, TypeConnect.QuotaCategory())
	assert.Equal(t, CategoryMessage, TypeDirectMessage.QuotaCategory())
	assert.Equal(t, CategoryMessage, TypeInMail.QuotaCategory())
	assert.Equal(t, CategoryPost, TypePostReact.QuotaCategory())
	assert.Equal(t, CategoryPost, TypePostComment.QuotaCategory())
	assert.Equal(t, CategoryNone, TypeProfileVisit.QuotaCategory())
	assert.Equal(t, CategoryNone, TypeProfileEnrich.QuotaCategory())
}

func TestExecErrorFormatting(t *testing.T) {
	err := &ExecError{Kind: KindBlocked, Message: "profile unavailable"}
	assert.Equal(t, "blocked: profile unavailable", err.Error())

	bare := &ExecError{Message: "something broke"}
	assert.Equal(t, "something broke", bare.Error())
}
