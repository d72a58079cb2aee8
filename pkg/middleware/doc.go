// Package middleware は通知サービスのGinミドルウェアを提供する。
//
// JWT認証、ダッシュボードのフロントエンドからのCORS許可、
// パニックからの回復を扱う。
package middleware
