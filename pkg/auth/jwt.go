package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 连接令牌声明
// 令牌由Web应用签发, 本服务只做校验和身份提取
type Claims struct {
	UserID string `json:"-"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// ValidateJWT 校验 JWT token 并提取身份声明
func ValidateJWT(tokenString, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token为空")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// 校验签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	// 主体标识即用户ID
	claims.UserID = claims.Subject
	if claims.UserID == "" {
		return nil, fmt.Errorf("token缺少subject声明")
	}

	return claims, nil
}

// GenerateJWT 生成 JWT token（测试和本地调试用, 正式令牌由Web应用签发）
func GenerateJWT(userID, role, secret string, expireIn time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expireIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
