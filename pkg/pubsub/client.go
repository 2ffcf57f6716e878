// Package pubsub wraps the Pub/Sub v2 client for the points event stream.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/logger"
)

// Role decides which resources NewClient verifies at startup.
type Role string

const (
	// RolePublisher needs the points topic.
	RolePublisher Role = "publisher"
	// RoleSubscriber needs the points subscription.
	RoleSubscriber Role = "subscriber"
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

var errProjectIDRequired = errors.New("gcp project id is required")

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	role      Role
}

// NewClient opens a Pub/Sub client. Unless cfg.SkipVerify is set, the topic
// or subscription the role depends on must already exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	if role != RolePublisher && role != RoleSubscriber {
		return nil, fmt.Errorf("unknown pubsub role %q", role)
	}

	psClient, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, projectID: projectID, cfg: cfg, role: role}

	if !cfg.SkipVerify {
		if err := c.verify(ctx); err != nil {
			_ = psClient.Close()
			return nil, err
		}
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"project_id": projectID,
			"role":       role,
		})
		logg.Info(logCtx, "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

func (c *Client) verify(ctx context.Context) error {
	switch c.role {
	case RolePublisher:
		name, err := c.required(kindTopic, c.cfg.PointsTopic)
		if err != nil {
			return err
		}
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
		return lookupError("topic", name, err)
	default:
		name, err := c.required(kindSubscription, c.cfg.PointsSubscription)
		if err != nil {
			return err
		}
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
		return lookupError("subscription", name, err)
	}
}

func (c *Client) required(kind, name string) (string, error) {
	full := resourceName(c.projectID, kind, name)
	if full == "" {
		return "", fmt.Errorf("pubsub %s name is required", strings.TrimSuffix(kind, "s"))
	}
	return full, nil
}

func lookupError(what, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", what, name)
	default:
		return fmt.Errorf("checking %s %q: %w", what, name, err)
	}
}

// PointsSubscription returns the subscriber for points domain events, or nil
// when no subscription is configured.
func (c *Client) PointsSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindSubscription, c.cfg.PointsSubscription)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// Publisher returns a handle for a topic id or full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindTopic, topic)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

// Ping re-runs the startup resource check for the client's role.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.verify(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a bare id to projects/<project>/<kind>/<id>. Names
// that are already fully qualified for kind pass through.
func resourceName(projectID, kind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return "projects/" + p + "/" + kind + "/" + n
}
