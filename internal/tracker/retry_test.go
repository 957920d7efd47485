package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"500", &HTTPStatusError{StatusCode: 500}, true},
		{"503", &HTTPStatusError{StatusCode: 503}, true},
		{"429", &HTTPStatusError{StatusCode: 429}, true},
		{"404", &HTTPStatusError{StatusCode: 404}, false},
		{"400", &HTTPStatusError{StatusCode: 400}, false},
		{"transport", errors.New("dial tcp: timeout"), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Retryable(c.err))
		})
	}
}

type countingProvider struct {
	attempts  int
	failUntil int
	err       error
}

func (p *countingProvider) CreateTicket(context.Context, CreateTicketInput) (Ticket, error) {
	p.attempts++
	if p.attempts <= p.failUntil {
		return Ticket{}, p.err
	}
	return Ticket{Key: "OPS-1"}, nil
}

func (p *countingProvider) GetTicket(context.Context, string) (Ticket, error) {
	return Ticket{}, ErrNotFound
}

func TestCreateWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	provider := &countingProvider{failUntil: 2, err: &HTTPStatusError{StatusCode: 503}}
	ticket, err := CreateWithRetry(context.Background(), provider, CreateTicketInput{}, 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "OPS-1", ticket.Key)
	assert.Equal(t, 3, provider.attempts)
}

func TestCreateWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	provider := &countingProvider{failUntil: 10, err: &HTTPStatusError{StatusCode: 500}}
	_, err := CreateWithRetry(context.Background(), provider, CreateTicketInput{}, 3, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, provider.attempts)
}

func TestCreateWithRetryDoesNotRetryNonRetryableError(t *testing.T) {
	provider := &countingProvider{failUntil: 10, err: &HTTPStatusError{StatusCode: 400}}
	_, err := CreateWithRetry(context.Background(), provider, CreateTicketInput{}, 5, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 1, provider.attempts)
}

func TestCreateWithRetryRespectsContextCancellation(t *testing.T) {
	provider := &countingProvider{failUntil: 10, err: &HTTPStatusError{StatusCode: 500}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CreateWithRetry(ctx, provider, CreateTicketInput{}, 5, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
