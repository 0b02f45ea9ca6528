/*
Package monitoring collects Prometheus metrics for the proxy.

Metrics covers HTTP traffic, session lifecycle, command outcomes and raw
line classification. It implements shell.Observer, so passing it as a
session's Observer is all the instrumentation a session needs.

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	sess := shell.New(shell.Config{Observer: metrics})
*/
package monitoring
