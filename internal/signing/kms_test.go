package signing

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/flutter-oauth/flutter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKMSClient struct {
	decryptFunc func(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

func (m *mockKMSClient) Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	return m.decryptFunc(ctx, in, optFns...)
}

func clientFactory(c KMSClient) func(context.Context) (KMSClient, error) {
	return func(context.Context) (KMSClient, error) { return c, nil }
}

func TestResolveConsumerSecret_Plaintext(t *testing.T) {
	called := false
	factory := func(context.Context) (KMSClient, error) {
		called = true
		return nil, nil
	}

	secret, err := ResolveConsumerSecret(context.Background(), config.OAuthConfig{ConsumerSecret: "plain"}, factory)

	require.NoError(t, err)
	assert.Equal(t, "plain", secret)
	assert.False(t, called, "KMS client should not be created for plaintext secrets")
}

func TestResolveConsumerSecret_Decrypts(t *testing.T) {
	ciphertext := []byte("encrypted-bytes")
	mock := &mockKMSClient{
		decryptFunc: func(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			assert.Equal(t, ciphertext, in.CiphertextBlob)
			return &kms.DecryptOutput{Plaintext: []byte("decrypted-secret")}, nil
		},
	}

	cfg := config.OAuthConfig{ConsumerSecretCiphertext: base64.StdEncoding.EncodeToString(ciphertext)}
	secret, err := ResolveConsumerSecret(context.Background(), cfg, clientFactory(mock))

	require.NoError(t, err)
	assert.Equal(t, "decrypted-secret", secret)
}

func TestResolveConsumerSecret_InvalidBase64(t *testing.T) {
	cfg := config.OAuthConfig{ConsumerSecretCiphertext: "!!not base64!!"}

	_, err := ResolveConsumerSecret(context.Background(), cfg, clientFactory(&mockKMSClient{}))

	require.ErrorContains(t, err, "not valid base64")
}

func TestResolveConsumerSecret_KMSError(t *testing.T) {
	mock := &mockKMSClient{
		decryptFunc: func(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			return nil, assert.AnError
		},
	}

	cfg := config.OAuthConfig{ConsumerSecretCiphertext: base64.StdEncoding.EncodeToString([]byte("x"))}
	_, err := ResolveConsumerSecret(context.Background(), cfg, clientFactory(mock))

	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "KMS decryption")
}

func TestResolveConsumerSecret_EmptyPlaintext(t *testing.T) {
	mock := &mockKMSClient{
		decryptFunc: func(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			return &kms.DecryptOutput{}, nil
		},
	}

	cfg := config.OAuthConfig{ConsumerSecretCiphertext: base64.StdEncoding.EncodeToString([]byte("x"))}
	_, err := ResolveConsumerSecret(context.Background(), cfg, clientFactory(mock))

	require.ErrorContains(t, err, "no plaintext")
}
