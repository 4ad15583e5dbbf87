package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	numAccounts     = 50         // Number of accounts to create
	numPayments     = 5000       // Total number of payments
	maxConcurrency  = 100        // Maximum number of concurrent requests
	initialBalance  = 10000      // Top-up per account, in cents
	successColor    = "\033[32m" // Green
	errorColor      = "\033[31m" // Red
	infoColor       = "\033[34m" // Blue
	resetColor      = "\033[0m"  // Reset color
	insufficientMsg = "Insufficient funds"
)

type drink struct {
	name  string
	code  string
	price int64
}

type account struct {
	name     string
	password string
	code     string
}

var (
	baseURL   = getEnv("LOAD_BASE_URL", "http://localhost:8080")
	superuser = getEnv("PREPAID_SUPERUSER_PASSWORD", "superuser")
	drinks    = []drink{
		{"Club Mate", "load-mate", 150},
		{"Cola", "load-cola", 120},
		{"Water", "load-water", 80},
	}
)

func main() {
	rand.Seed(time.Now().UnixNano())
	runID := strconv.FormatInt(time.Now().Unix(), 36)

	fmt.Printf("%sstarting a load test with %d accounts and %d payments%s\n",
		infoColor, numAccounts, numPayments, resetColor)

	createDrinks()
	accounts := createAccounts(runID, numAccounts)
	fmt.Printf("%sCreated %d accounts%s\n", successColor, len(accounts), resetColor)
	if len(accounts) == 0 {
		os.Exit(1)
	}

	// Create semaphore for limiting concurrency
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	startTime := time.Now()
	var (
		mu           sync.Mutex
		successCount int
		rejectCount  int
		errorCount   int
		spent        = make(map[string]int64)
	)

	for i := 0; i < numPayments; i++ {
		wg.Add(1)
		sem <- struct{}{} // Acquire semaphore

		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }() // Release semaphore

			acc := accounts[rand.Intn(len(accounts))]
			d := drinks[rand.Intn(len(drinks))]

			_, err := pay(acc.code, d.code)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successCount++
				spent[acc.code] += d.price
			case err.Error() == insufficientMsg:
				rejectCount++
			default:
				errorCount++
				if n%100 == 0 {
					fmt.Printf("%sPayment failed: %v%s\n", errorColor, err, resetColor)
				}
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(startTime)

	fmt.Printf("\n%s=== load test results ===%s\n", infoColor, resetColor)
	fmt.Printf("Total number of payments: %d\n", numPayments)
	fmt.Printf("Successful: %s%d%s, insufficient funds: %d, errors: %s%d%s\n",
		successColor, successCount, resetColor, rejectCount, errorColor, errorCount, resetColor)
	fmt.Printf("Duration: %.2f seconds\n", duration.Seconds())
	fmt.Printf("Throughput: %.2f payments/second\n", float64(numPayments)/duration.Seconds())

	fmt.Printf("\n%sChecking final account balances...%s\n", infoColor, resetColor)
	if !checkBalances(accounts, spent) {
		os.Exit(1)
	}
}

func post(path string, form url.Values) (string, error) {
	resp, err := http.PostForm(baseURL+path, form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

// createDrinks registers the load test drinks; already existing ones are kept
func createDrinks() {
	for _, d := range drinks {
		_, err := post("/api/drink/create", url.Values{
			"superuserpassword": {superuser},
			"name":              {d.name},
			"price":             {strconv.FormatInt(d.price, 10)},
			"barcode":           {d.code},
		})
		if err != nil && err.Error() != "code already exists" {
			fmt.Printf("%sFailed to create drink %s: %v%s\n", errorColor, d.code, err, resetColor)
		}
	}
}

// createAccounts creates count accounts and tops each one up
func createAccounts(runID string, count int) []account {
	accounts := make([]account, 0, count)

	for i := 0; i < count; i++ {
		acc := account{
			name:     fmt.Sprintf("load-%s-%d", runID, i),
			password: "load",
			code:     fmt.Sprintf("load-%s-%d", runID, i),
		}
		_, err := post("/api/account/create", url.Values{
			"name": {acc.name}, "password": {acc.password}, "code": {acc.code},
		})
		if err != nil {
			fmt.Printf("%sFailed to create account %s: %v%s\n", errorColor, acc.name, err, resetColor)
			continue
		}

		_, err = post("/api/money/add", url.Values{
			"superuserpassword": {superuser},
			"account_code":      {acc.code},
			"money":             {strconv.Itoa(initialBalance)},
		})
		if err != nil {
			fmt.Printf("%sFailed to top up account %s: %v%s\n", errorColor, acc.name, err, resetColor)
			continue
		}

		accounts = append(accounts, acc)
		if i%10 == 0 || i == count-1 {
			fmt.Printf("%screated account %d/%d: %s with balance %d%s\n",
				successColor, i+1, count, acc.name, initialBalance, resetColor)
		}
	}

	return accounts
}

func pay(accountCode, drinkCode string) (int64, error) {
	body, err := post("/api/payment/perform", url.Values{
		"superuserpassword": {superuser},
		"account_code":      {accountCode},
		"drink_barcode":     {drinkCode},
	})
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(body, 10, 64)
}

func viewAccount(acc account) (int64, error) {
	body, err := post("/api/account/view", url.Values{"name": {acc.name}, "password": {acc.password}})
	if err != nil {
		return 0, err
	}
	var view []interface{}
	if err := json.Unmarshal([]byte(body), &view); err != nil {
		return 0, fmt.Errorf("failed to decode response: %v", err)
	}
	if len(view) != 3 {
		return 0, fmt.Errorf("unexpected account view %s", body)
	}
	balance, ok := view[2].(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected balance in %s", body)
	}
	return int64(balance), nil
}

// checkBalances verifies that every account lost exactly what its successful
// payments cost and never went negative
func checkBalances(accounts []account, spent map[string]int64) bool {
	ok := true
	for _, acc := range accounts {
		balance, err := viewAccount(acc)
		if err != nil {
			fmt.Printf("%sError retrieving account %s: %v%s\n", errorColor, acc.name, err, resetColor)
			ok = false
			continue
		}
		want := int64(initialBalance) - spent[acc.code]
		if balance != want || balance < 0 {
			fmt.Printf("%sAccount %s: expected balance %d, got %d%s\n", errorColor, acc.name, want, balance, resetColor)
			ok = false
		}
	}
	if ok {
		fmt.Printf("%sAll %d balances match%s\n", successColor, len(accounts), resetColor)
	}
	return ok
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
