package redis

const (
	// OnlineKeyPrefix marks an entity as connected to a timer instance: timer:online:{uuid}:
	OnlineKeyPrefix = "timer:online:{%s}:"
)
