package signing

import (
	"context"
	"encoding/base64"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/flutter-oauth/flutter/internal/config"
)

// KMSClient defines the AWS API surface required to decrypt the consumer
// secret.
type KMSClient interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewKMSClient creates a KMS client from the default AWS configuration chain.
func NewKMSClient(ctx context.Context) (KMSClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// ResolveConsumerSecret returns the plaintext consumer secret. When the
// secret is configured as KMS ciphertext it is decrypted with the client
// produced by newClient, which is not called otherwise.
func ResolveConsumerSecret(ctx context.Context, cfg config.OAuthConfig, newClient func(context.Context) (KMSClient, error)) (string, error) {
	if cfg.ConsumerSecretCiphertext == "" {
		return cfg.ConsumerSecret, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(cfg.ConsumerSecretCiphertext)
	if err != nil {
		return "", fmt.Errorf("consumer secret ciphertext is not valid base64: %w", err)
	}

	client, err := newClient(ctx)
	if err != nil {
		return "", err
	}

	out, err := client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return "", fmt.Errorf("KMS decryption of consumer secret failed: %w", err)
	}

	if len(out.Plaintext) == 0 {
		return "", fmt.Errorf("KMS decryption of consumer secret returned no plaintext")
	}

	return string(out.Plaintext), nil
}
