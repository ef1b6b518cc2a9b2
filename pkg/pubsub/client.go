// Package pubsub owns the Pub/Sub connection used to announce lead assignments.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errLeadsTopic        = errors.New("pubsub leads topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client holds one lazily created publisher for the leads topic. Publishers batch in the
// background, so the same handle is reused for every lead.
type Client struct {
	client     *pubsub.Client
	leadsTopic string

	mu    sync.Mutex
	leads *pubsub.Publisher
}

// NewClient connects to Pub/Sub and fails when the leads topic does not exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topic := topicResourceName(projectID, cfg.LeadsTopic)
	if topic == "" {
		return nil, errLeadsTopic
	}

	psClient, err := pubsub.NewClient(ctx, projectID, credentialOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, leadsTopic: topic}
	if err := c.checkTopic(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topic), "pubsub client initialized")
	}
	return c, nil
}

func credentialOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func (c *Client) checkTopic(ctx context.Context) error {
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.leadsTopic})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", c.leadsTopic)
	default:
		return fmt.Errorf("checking topic %q: %w", c.leadsTopic, err)
	}
}

// LeadsPublisher returns the shared publisher for lead-assignment events.
func (c *Client) LeadsPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leads == nil {
		c.leads = c.client.Publisher(c.leadsTopic)
	}
	return c.leads
}

// Ping checks that the leads topic is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.checkTopic(ctx)
}

// Close flushes pending lead events and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	if c.leads != nil {
		c.leads.Stop()
		c.leads = nil
	}
	c.mu.Unlock()
	return c.client.Close()
}

// topicResourceName accepts a bare topic id or a full projects/<p>/topics/<t> name.
func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return "projects/" + p + "/topics/" + n
}
