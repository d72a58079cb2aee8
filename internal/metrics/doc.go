// Package metrics は通知フィードとシミュレーションのPrometheusメトリクスを提供する。
package metrics
