package chat

// Cache key scheme. Keys embed the aggregate kind so one write can
// enumerate every key that could serve a stale view of it.

// CanonicalPair sorts an unordered user-id pair. For any (a, b) the result
// equals the result for (b, a); this is what makes the direct-chat lookup
// and its cache entry order-independent.
func CanonicalPair(a, b string) (lo, hi string) {
	if a <= b {
		return a, b
	}
	return b, a
}

func keyDirectChat(userA, userB string) string {
	lo, hi := CanonicalPair(userA, userB)
	return "chat:pair:" + lo + ":" + hi
}

func keyMessages(chatID string) string {
	return "chat:messages:" + chatID
}

func keyChatList(userID string) string {
	return "chat:list:" + userID
}

func keyGroup(groupID string) string {
	return "group:snapshot:" + groupID
}
