package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/stayontop/mailtriage/internal/instrumentation"
)

// defaultPageSize is the Gmail API maximum page size for message lists.
const defaultPageSize = 100

// Client wraps the Gmail Users service for a single authenticated
// account.
type Client struct {
	svc      *gmail.UsersService
	identity string
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// NewClient creates a Gmail client backed by the given token source.
// Additional options can inject a base URL or HTTP client in tests.
func NewClient(ctx context.Context, ts oauth2.TokenSource, identity string, opts ...option.ClientOption) (*Client, error) {
	allOpts := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmail.NewService(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Client{
		svc:      svc.Users,
		identity: identity,
		logger:   slog.Default(),
		metrics:  &instrumentation.Metrics{},
	}, nil
}

// SetLogger sets a custom logger for the client.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMetrics sets the metrics recorder for API call observability.
func (c *Client) SetMetrics(metrics *instrumentation.Metrics) {
	if metrics != nil {
		c.metrics = metrics
	}
}

// observe runs one Gmail API call under a client span and records the
// operation counter and duration.
func (c *Client) observe(ctx context.Context, operation string, attrs []attribute.KeyValue, call func(ctx context.Context) error) error {
	ctx, span := instrumentation.StartUpstreamSpan(ctx, instrumentation.ServiceGmail, operation, attrs...)
	defer span.End()

	start := time.Now()
	err := call(ctx)
	duration := time.Since(start)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, operation, status, duration)
	return err
}

// Identity returns the account this client is associated with.
func (c *Client) Identity() string {
	return c.identity
}

// MessagePage is one page of a message listing.
type MessagePage struct {
	IDs            []string
	NextPageToken  string
	TotalEstimated int64
}

// ListMessages lists message IDs matching the query, one page at a time.
func (c *Client) ListMessages(ctx context.Context, query string, maxResults int64, pageToken string) (*MessagePage, error) {
	var page *MessagePage
	err := c.observe(ctx, instrumentation.OperationList, nil, func(ctx context.Context) error {
		req := c.svc.Messages.List("me").Q(query).MaxResults(maxResults).Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		res, err := req.Do()
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}

		page = &MessagePage{
			NextPageToken:  res.NextPageToken,
			TotalEstimated: res.ResultSizeEstimate,
		}
		for _, m := range res.Messages {
			page.IDs = append(page.IDs, m.Id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetMessage retrieves the full payload of a single message.
func (c *Client) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	var msg *gmail.Message
	attrs := instrumentation.NewSpanAttributeBuilder().
		WithResource("message", id).
		Build()
	err := c.observe(ctx, instrumentation.OperationGet, attrs, func(ctx context.Context) error {
		m, err := c.svc.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get message %s: %w", id, err)
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RecentMessages fetches full messages from the last days days, newest
// first, up to maxResults. An optional query narrows the search further.
// Messages whose detail fetch fails are skipped so one bad message does
// not abort the run.
func (c *Client) RecentMessages(ctx context.Context, days int, maxResults int64, query string) ([]*gmail.Message, error) {
	if days < 1 {
		days = 1
	}
	if maxResults < 1 {
		maxResults = defaultPageSize
	}

	now := time.Now()
	start := now.AddDate(0, 0, -days)
	dateQuery := fmt.Sprintf("after:%s before:%s", start.Format("2006/01/02"), now.AddDate(0, 0, 1).Format("2006/01/02"))
	if query != "" {
		dateQuery = dateQuery + " " + query
	}

	var ids []string
	pageToken := ""
	for {
		remaining := maxResults - int64(len(ids))
		if remaining <= 0 {
			break
		}
		pageSize := remaining
		if pageSize > defaultPageSize {
			pageSize = defaultPageSize
		}

		page, err := c.ListMessages(ctx, dateQuery, pageSize, pageToken)
		if err != nil {
			return nil, err
		}
		ids = append(ids, page.IDs...)
		if page.NextPageToken == "" || int64(len(ids)) >= maxResults {
			break
		}
		pageToken = page.NextPageToken
	}
	if int64(len(ids)) > maxResults {
		ids = ids[:maxResults]
	}

	messages := make([]*gmail.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := c.GetMessage(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return messages, ctx.Err()
			}
			c.logger.Warn("skipping message, detail fetch failed",
				slog.String("message_id", id),
				slog.String("error", err.Error()))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// CheckConnection verifies the client can reach the mailbox.
func (c *Client) CheckConnection(ctx context.Context) bool {
	err := c.observe(ctx, instrumentation.OperationProfile, nil, func(ctx context.Context) error {
		_, err := c.svc.GetProfile("me").Context(ctx).Do()
		return err
	})
	if err != nil {
		c.logger.Error("Gmail connection check failed", slog.String("error", err.Error()))
		return false
	}
	return true
}
