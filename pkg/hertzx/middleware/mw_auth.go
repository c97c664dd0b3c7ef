package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/golang-jwt/jwt/v5"

	"github.com/promptlab/promptlab/pkg/logs"
	"github.com/promptlab/promptlab/pkg/resp"
)

const CallerIDKey = "caller-id"

// BearerAuthMW 校验 Bearer token，提取调用者标识。
// 鉴权体系本身由外部服务负责，这里只验证签名并放行。
func BearerAuthMW(secret string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if secret == "" {
			// 未配置密钥时关闭校验，本地联调用
			c.Next(ctx)
			return
		}
		auth := string(c.GetHeader("Authorization"))
		if !strings.HasPrefix(auth, "Bearer ") {
			unauthorized(c, "missing bearer token")
			return
		}
		raw := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, resp.Unauthorizedf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			logs.CtxWarnf(ctx, "invalid token: %v", err)
			unauthorized(c, "invalid token")
			return
		}
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, _ := claims["sub"].(string); sub != "" {
				c.Set(CallerIDKey, sub)
			}
		}
		c.Next(ctx)
	}
}

// CallerID 取当前请求的调用者标识,未鉴权时为空
func CallerID(c *app.RequestContext) string {
	return c.GetString(CallerIDKey)
}

func unauthorized(c *app.RequestContext, message string) {
	se := resp.Unauthorizedf("%s", message)
	c.AbortWithStatusJSON(resp.HTTPStatus(se.ErrCode), resp.Response{
		Code:    resp.Failed,
		Message: se.Msg,
		Data:    se,
	})
}
