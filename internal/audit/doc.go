// Package audit は通知フィードの変更履歴をSQLiteへ追記する。
//
// 通知の追加・既読化・削除やシミュレーションの切り替えをイベントとして記録し、
// 監査用に新しい順で参照できるようにする。記録はストアの状態復元には使用しない。
package audit
