package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tradeflow/logger"
)

// CloudWatchConfig configures metric-based alerting. A CloudWatch alarm
// on the FatalAlerts metric then pages whoever is on call. Credentials
// fall back to the default AWS chain when not set explicitly.
type CloudWatchConfig struct {
	Region          string
	Namespace       string
	AccessKeyID     string
	SecretAccessKey string
}

const fatalAlertMetric = "FatalAlerts"

// CloudWatchAlerter publishes a count to a CloudWatch metric for every
// fatal alert, with the alert subject attached as a dimension.
type CloudWatchAlerter struct {
	client    *cloudwatch.Client
	namespace string
	log       *logger.Entry
}

// NewCloudWatchAlerter builds the CloudWatch client.
func NewCloudWatchAlerter(ctx context.Context, cfg CloudWatchConfig) (*CloudWatchAlerter, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("cloudwatch alerter: namespace is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudwatch alerter: load aws config: %w", err)
	}

	return &CloudWatchAlerter{
		client:    cloudwatch.NewFromConfig(awsCfg),
		namespace: cfg.Namespace,
		log:       logger.GetLogger().WithComponent("cloudwatch_alerter"),
	}, nil
}

// SendMessage implements Alerter.
func (a *CloudWatchAlerter) SendMessage(subject, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := a.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(a.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(fatalAlertMetric),
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String("subject"), Value: aws.String(subject)},
			},
			Unit:  cwtypes.StandardUnitCount,
			Value: aws.Float64(1),
		}},
	})
	if err != nil {
		a.log.WithError(err).Error("failed to publish fatal alert metric")
		return fmt.Errorf("cloudwatch alerter: %w", err)
	}

	a.log.WithFields(logger.Fields{"namespace": a.namespace, "subject": subject}).
		Info("fatal alert metric published")
	return nil
}
