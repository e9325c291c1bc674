package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/constants"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// 開發模式下使用的身份標頭
const (
	DevUserIDHeader   = "X-User-ID"
	DevUserRoleHeader = "X-User-Role"
	principalKey      = "principal"
)

// ErrUnauthenticated 缺少或無效的憑證
var ErrUnauthenticated = errors.New("unauthenticated")

// PrincipalClaims JWT 內容：sub 為操作者 ID，role 為 patient 或 doctor
type PrincipalClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTMiddleware 從 JWT 解析操作者身份
// 未啟用時改用開發標頭，僅供本機開發
type JWTMiddleware struct {
	secretKey []byte
	issuer    string
	enabled   bool
}

// NewJWTMiddleware 創建 JWT 中間件
func NewJWTMiddleware(secretKey, issuer string, enabled bool) *JWTMiddleware {
	return &JWTMiddleware{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		enabled:   enabled,
	}
}

// SignToken 簽發操作者 token，供測試與本機工具使用
func SignToken(secretKey, issuer string, p chat.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := PrincipalClaims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secretKey))
}

// ParseToken 驗證 token 並回傳操作者
func (m *JWTMiddleware) ParseToken(raw string) (chat.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &PrincipalClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		return chat.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return principalFrom(claims.Subject, claims.Role)
}

func principalFrom(id, role string) (chat.Principal, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > constants.MaxPrincipalIDLength || strings.ContainsAny(id, "\x00${}[]") {
		return chat.Principal{}, fmt.Errorf("%w: invalid subject", ErrUnauthenticated)
	}
	r, err := chat.ParseRole(role)
	if err != nil {
		return chat.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return chat.Principal{ID: id, Role: r}, nil
}

// bearerToken 從 Authorization 標頭或 token 查詢參數取得 token
// 瀏覽器的 WebSocket 握手無法帶自訂標頭，因此也接受查詢參數
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate 解析請求的操作者身份
func (m *JWTMiddleware) Authenticate(r *http.Request) (chat.Principal, error) {
	if !m.enabled {
		id := r.Header.Get(DevUserIDHeader)
		role := r.Header.Get(DevUserRoleHeader)
		if id == "" {
			id = r.URL.Query().Get("user_id")
			role = r.URL.Query().Get("role")
		}
		return principalFrom(id, role)
	}

	raw := bearerToken(r)
	if raw == "" {
		return chat.Principal{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	return m.ParseToken(raw)
}

// GinMiddleware Gin HTTP 中間件
// 使用方式：group.Use(jwtMiddleware.GinMiddleware())
func (m *JWTMiddleware) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := m.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Unauthorized",
			})
			return
		}
		c.Set(principalKey, p)
		if meta := GetRequestMetadataFromGin(c); meta != nil {
			meta.PrincipalID = p.ID
			meta.Role = string(p.Role)
		}
		c.Next()
	}
}

// GetPrincipal 從 gin.Context 取得已認證的操作者
func GetPrincipal(c *gin.Context) (chat.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return chat.Principal{}, false
	}
	p, ok := v.(chat.Principal)
	return p, ok
}

type principalCtxKey struct{}

// PrincipalFromContext 從 gRPC context 取得操作者
func PrincipalFromContext(ctx context.Context) (chat.Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(chat.Principal)
	return p, ok
}

// GRPCUnaryInterceptor gRPC 一元 RPC 攔截器
// 使用方式：grpc.NewServer(grpc.UnaryInterceptor(jwtMiddleware.GRPCUnaryInterceptor()))
func (m *JWTMiddleware) GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !m.enabled {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "未提供認證信息")
		}
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "未提供認證 token")
		}

		p, err := m.ParseToken(strings.TrimPrefix(values[0], "Bearer "))
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "認證失敗")
		}
		return handler(context.WithValue(ctx, principalCtxKey{}, p), req)
	}
}
