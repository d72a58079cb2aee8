// Package httpclient は外部サービスとJSONをやり取りするHTTPクライアントを提供する。
//
// 通知をWebhookへ転送する際に使用する。タイムアウトと共通ヘッダーを設定でき、
// コンテキストに設定したユーザーIDをX-User-IDヘッダーとして送信する。
package httpclient
