package api

import (
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gin-gonic/gin"
)

// RequestValidator はOpenAPIドキュメントに従ってリクエストを検証する gin ミドルウェアを返す
//
// ドキュメントに定義されていないパスやメソッドは検証せずに次へ渡す。
// 検証に失敗した場合は errorHandler を 400 で呼び出して処理を中断する。
func RequestValidator(doc *openapi3.T, errorHandler func(*gin.Context, error, int)) (gin.HandlerFunc, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("ルーターの作成に失敗: %w", err)
	}

	if errorHandler == nil {
		errorHandler = func(c *gin.Context, err error, statusCode int) {
			c.JSON(statusCode, gin.H{"msg": err.Error()})
		}
	}

	return func(c *gin.Context) {
		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			errorHandler(c, err, http.StatusBadRequest)
			c.Abort()
			return
		}

		c.Next()
	}, nil
}
