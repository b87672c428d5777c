package gateway

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

// ============================================================================
// 通知报文解密（AES-256-GCM）
// ============================================================================
//
// 网关用 APIv3 密钥对通知里的 resource 做 AEAD 加密：
//   - 密钥：32 字节 APIv3 key 的原始 UTF-8 字节
//   - nonce：必须恰好 12 字节，长度不对直接拒绝，绝不截断或补齐
//   - associated_data：网关下发字符串的 UTF-8 字节
//   - ciphertext：base64，末尾追加 16 字节认证标签
//
// 【安全】认证标签校验失败一律返回 ErrIntegrity，按安全事件处理，
// 禁止任何从原始密文"抢救"字段的降级逻辑。
// ============================================================================

var (
	ErrIntegrity    = errors.New("通知解密失败，认证标签不匹配")
	ErrAPIKeyLength = errors.New("APIv3 密钥长度必须是 32 字节")
	ErrNonceLength  = errors.New("nonce 长度必须是 12 字节")
)

const (
	apiKeySize    = 32
	aeadNonceSize = 12
)

// DecryptAEAD 解密网关通知的 resource 密文
func DecryptAEAD(apiKey, associatedData, nonce, ciphertextB64 string) ([]byte, error) {
	if len(apiKey) != apiKeySize {
		return nil, ErrAPIKeyLength
	}
	if len(nonce) != aeadNonceSize {
		return nil, ErrNonceLength
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("密文不是合法的 base64: %w", err)
	}

	block, err := aes.NewCipher([]byte(apiKey))
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, []byte(nonce), ciphertext, []byte(associatedData))
	if err != nil {
		return nil, ErrIntegrity
	}

	return plaintext, nil
}

// EncryptAEAD 按同一套参数加密，供测试构造通知报文
func EncryptAEAD(apiKey, associatedData, nonce string, plaintext []byte) (string, error) {
	if len(apiKey) != apiKeySize {
		return "", ErrAPIKeyLength
	}
	if len(nonce) != aeadNonceSize {
		return "", ErrNonceLength
	}

	block, err := aes.NewCipher([]byte(apiKey))
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, []byte(nonce), plaintext, []byte(associatedData))
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
