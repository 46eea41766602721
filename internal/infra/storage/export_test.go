package storage

var WithCacheClock = withCacheClock
