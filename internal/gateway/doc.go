// Package gateway はAIガバナンスダッシュボードのHTTP APIを提供する。
//
// JWTで認証したユーザーごとに通知セッションを割り当て、通知の一覧・既読管理・
// 書き出し、シミュレーションの切り替え、トーストのSSE配信、監査ログの参照を公開する。
// ヘルスチェックとPrometheusメトリクスは認証なしで公開する。
package gateway
