package state

import "math/rand"

var anonNames = []string{
	"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi", "ivan", "judy",
	"karl", "laura", "mallory", "nick", "olivia", "peggy", "quentin", "rupert", "sybil", "trent",
	"ursula", "victor", "wendy", "xavier", "yvonne", "zack", "amber", "bruce", "claire", "dan",
	"ella", "felix", "george", "hannah", "isaac", "jane", "kevin", "lily", "mike", "nina",
	"oscar", "paula", "queen", "riley", "simon", "tina", "uma", "val", "will", "xena",
	"yuri", "zoe",
}

// RandomNick picks a display nick for users who did not configure one.
func RandomNick() string {
	return anonNames[rand.Intn(len(anonNames))]
}
