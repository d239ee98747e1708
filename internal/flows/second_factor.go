package flows

import "context"

// SecondFactorDeps checks a submitted code against the user's primary method
// and then against the backup codes. CheckBackup either consumes the code or
// only matches it, leaving removal to the caller.
type SecondFactorDeps struct {
	VerifyPrimary func(ctx context.Context, code string) (bool, error)
	CheckBackup   func(ctx context.Context, code string) (bool, error)
}

// SecondFactorResult reports which credential satisfied the check.
type SecondFactorResult struct {
	OK             bool
	UsedBackupCode bool
}

// RunVerifySecondFactor tries the primary method first. Backup codes are only
// checked when the primary check did not match. Backend errors from either
// step are returned as is.
func RunVerifySecondFactor(ctx context.Context, code string, deps SecondFactorDeps) (SecondFactorResult, error) {
	if code == "" {
		return SecondFactorResult{}, nil
	}
	if deps.VerifyPrimary != nil {
		ok, err := deps.VerifyPrimary(ctx, code)
		if err != nil {
			return SecondFactorResult{}, err
		}
		if ok {
			return SecondFactorResult{OK: true}, nil
		}
	}
	if deps.CheckBackup == nil {
		return SecondFactorResult{}, nil
	}
	ok, err := deps.CheckBackup(ctx, code)
	if err != nil {
		return SecondFactorResult{}, err
	}
	return SecondFactorResult{OK: ok, UsedBackupCode: ok}, nil
}
