package runtimes

// Starter code materialized into a room's buffer when it is created or when
// its language changes.
const (
	templateC = `#include <stdio.h>

int main() {
    printf("Hello, World!\n");
    return 0;
}`

	templateCPP = `#include <iostream>
using namespace std;

int main() {
    cout << "Hello, World!" << endl;
    return 0;
}`

	templatePython = `def main():
    print("Hello, World!")

if __name__ == "__main__":
    main()`

	templateJavaScript = `function main() {
    console.log("Hello, World!");
}

main();`

	templateTypeScript = `function main(): void {
    console.log("Hello, World!");
}

main();`

	templateGo = `package main

import "fmt"

func main() {
    fmt.Println("Hello, World!")
}`

	templateRust = `fn main() {
    println!("Hello, World!");
}`

	templateJava = `public class code {
    public static void main(String[] args) {
        System.out.println("Hello, World!");
    }
}`

	templatePHP = `<?php
echo "Hello, World!\n";
?>`

	templateRuby = `def main
    puts "Hello, World!"
end

main`
)
