package config

type MarketConfig struct {
	// 站点基础URL，用于生成回调和下载地址
	SiteURL string `cfg:"SITE_URL" default:"http://localhost:8080"`

	// HashID盐值
	HashidSalt string `cfg:"HASHID_SALT" default:"aira-market"`

	Database struct {
		Driver string `cfg:"DRIVER" default:"mysql"`
		DSN    string `cfg:"DSN"`
	} `cfg:"DATABASE"`

	// 支付服务配置
	Stripe struct {
		SecretKey      string `cfg:"SECRET_KEY"`
		PublishableKey string `cfg:"PUBLISHABLE_KEY"`
		WebhookSecret  string `cfg:"WEBHOOK_SECRET"`
	} `cfg:"STRIPE"`

	// 支付通知配置
	Notify struct {
		Enabled      bool   `cfg:"ENABLED" default:"false"`
		SQSQueueURL  string `cfg:"SQS_QUEUE_URL"`
		AWSRegion    string `cfg:"AWS_REGION"`
		AWSAccessKey string `cfg:"AWS_ACCESS_KEY"`
		AWSSecret    string `cfg:"AWS_SECRET"`
		CallbackURL  string `cfg:"CALLBACK_URL"`
	} `cfg:"NOTIFY"`
}

var Config *MarketConfig
