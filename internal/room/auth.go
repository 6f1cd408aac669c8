package room

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes a plaintext password with bcrypt, grounded on
// Distortions81-LumenClay's internal/game/accounts.go use of
// bcrypt.GenerateFromPassword at bcrypt.DefaultCost.
func HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func matchesHash(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// authorize derives a session's role from which password hashes are set
// on the room and the password the caller supplied:
//
//	both unset            -> admin regardless of password
//	only admin hash set   -> match admin -> admin; else reject
//	only readonly hash set-> match readonly -> readonly;
//	                         empty/absent -> admin (legacy open-write);
//	                         mismatch -> reject
//	both set              -> match admin -> admin; match readonly ->
//	                         readonly; else reject
func authorize(adminHash, readonlyHash, password string) (Role, error) {
	hasAdmin := adminHash != ""
	hasReadonly := readonlyHash != ""

	switch {
	case !hasAdmin && !hasReadonly:
		return RoleAdmin, nil

	case hasAdmin && !hasReadonly:
		if matchesHash(adminHash, password) {
			return RoleAdmin, nil
		}
		return "", ErrWrongPassword

	case !hasAdmin && hasReadonly:
		if password == "" {
			// Legacy open-write path, preserved for compatibility even
			// though a future version should treat this as an error.
			return RoleAdmin, nil
		}
		if matchesHash(readonlyHash, password) {
			return RoleReadonly, nil
		}
		return "", ErrWrongPassword

	default: // both set
		if matchesHash(adminHash, password) {
			return RoleAdmin, nil
		}
		if matchesHash(readonlyHash, password) {
			return RoleReadonly, nil
		}
		return "", ErrWrongPassword
	}
}
