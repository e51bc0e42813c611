package verify

// disposableDomains lists widely known throwaway mail providers. The list
// is intentionally short; a production deployment would sync it from a
// maintained source via configuration.
var disposableDomains = map[string]bool{
	"10minutemail.com":  true,
	"discard.email":     true,
	"dispostable.com":   true,
	"fakeinbox.com":     true,
	"getnada.com":       true,
	"guerrillamail.com": true,
	"guerrillamail.net": true,
	"maildrop.cc":       true,
	"mailinator.com":    true,
	"mintemail.com":     true,
	"mytemp.email":      true,
	"sharklasers.com":   true,
	"spamgourmet.com":   true,
	"temp-mail.org":     true,
	"tempmail.com":      true,
	"throwawaymail.com": true,
	"trashmail.com":     true,
	"yopmail.com":       true,
}

// roleBasedLocals lists local parts that address a function rather than a
// person. Role accounts are deliverable but poor campaign targets.
var roleBasedLocals = map[string]bool{
	"abuse":      true,
	"admin":      true,
	"billing":    true,
	"contact":    true,
	"help":       true,
	"hostmaster": true,
	"info":       true,
	"marketing":  true,
	"noreply":    true,
	"no-reply":   true,
	"office":     true,
	"postmaster": true,
	"sales":      true,
	"security":   true,
	"support":    true,
	"webmaster":  true,
}
