package gateway

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 请求签名
// ============================================================================
//
// 网关要求每个请求携带 RSA-SHA256 签名，待签名串格式固定：
//
//   METHOD\n
//   PATH\n
//   TIMESTAMP\n
//   NONCE\n
//   BODY\n
//
// PATH 包含查询参数；GET 请求 BODY 为空串。商户私钥为 PKCS8 格式，
// 进程启动时加载一次，运行期只读。
// ============================================================================

var (
	ErrKeyFormat = errors.New("商户私钥格式不合法")
	ErrSigning   = errors.New("请求签名失败")
)

const authSchemeTag = "WECHATPAY2-SHA256-RSA2048"

type Signer struct {
	mchID    string
	serialNo string
	key      *rsa.PrivateKey
}

// NewSigner 解析 PKCS8 私钥并构造签名器
func NewSigner(mchID, serialNo string, privateKeyPEM []byte) (*Signer, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: 不是合法的 PEM", ErrKeyFormat)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: 不是 RSA 私钥", ErrKeyFormat)
	}

	return &Signer{
		mchID:    mchID,
		serialNo: serialNo,
		key:      key,
	}, nil
}

// Sign 对请求计算 RSA-SHA256 签名，返回 base64
func (s *Signer) Sign(method, path string, timestamp int64, nonce, body string) (string, error) {
	message := fmt.Sprintf("%s\n%s\n%d\n%s\n%s\n", method, path, timestamp, nonce, body)
	digest := sha256.Sum256([]byte(message))

	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// AuthorizationHeader 生成携带新鲜随机串和时间戳的 Authorization 头
func (s *Signer) AuthorizationHeader(method, path, body string) (string, error) {
	nonce := uuid.NewString()
	timestamp := time.Now().Unix()

	signature, err := s.Sign(method, path, timestamp, nonce, body)
	if err != nil {
		return "", err
	}

	return BuildAuthHeader(s.mchID, s.serialNo, nonce, timestamp, signature), nil
}

// BuildAuthHeader 按网关规定的 scheme-tag + key=value 列表拼装认证头，纯格式化
func BuildAuthHeader(mchID, serialNo, nonce string, timestamp int64, signature string) string {
	return fmt.Sprintf(
		`%s mchid="%s",nonce_str="%s",signature="%s",timestamp="%d",serial_no="%s"`,
		authSchemeTag, mchID, nonce, signature, timestamp, serialNo,
	)
}

// Verify 用公钥校验签名，测试和回调验签共用
func Verify(pub *rsa.PublicKey, method, path string, timestamp int64, nonce, body, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: 签名不是合法的 base64", ErrSigning)
	}

	message := fmt.Sprintf("%s\n%s\n%d\n%s\n%s\n", method, path, timestamp, nonce, body)
	digest := sha256.Sum256([]byte(message))

	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("%w: 验签不通过", ErrSigning)
	}
	return nil
}
