// Package notification はダッシュボードの通知フィードを提供する。
//
// Store は新しい順に並んだ上限付きの通知一覧を保持し、変更をオブザーバーへ通知する。
// Simulator はテンプレートから一定間隔で通知を生成し、Store に追加する。
// Sessions はユーザーごとに Store と Simulator とトーストの配信元をまとめて管理する。
//
// 通知の状態はメモリ上にのみ保持し、セッション終了とともに破棄する。
package notification
