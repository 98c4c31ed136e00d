package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleGetHealth)

	v1 := s.router.Group("/api/v1")
	{
		allocations := v1.Group("/allocations")
		{
			allocations.GET("", s.handleListAllocations)
			allocations.GET("/latest", s.handleLatestAllocations)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", s.handleListRuns)
			runs.GET("/:id", s.handleGetRun)
			runs.GET("/:id/windows", s.handleGetRunWindows)
		}
	}
}
